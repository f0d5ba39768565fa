package native

import (
	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2D transforms a rows x cols real grid (row-major) into its full complex
// spectrum. Rows go through the real FFT, columns through the complex FFT.
func fft2D(data []float64, rows, cols int) []complex128 {
	rowFFT := fourier.NewFFT(cols)
	colFFT := fourier.NewCmplxFFT(rows)

	result := make([]complex128, rows*cols)

	rowInput := make([]float64, cols)
	rowOutput := make([]complex128, cols/2+1)
	for i := 0; i < rows; i++ {
		copy(rowInput, data[i*cols:(i+1)*cols])
		rowFFT.Coefficients(rowOutput, rowInput)

		// rebuild the negative frequencies from conjugate symmetry
		row := result[i*cols : (i+1)*cols]
		copy(row, rowOutput)
		for j := len(rowOutput); j < cols; j++ {
			k := cols - j
			row[j] = complex(real(rowOutput[k]), -imag(rowOutput[k]))
		}
	}

	col := make([]complex128, rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			col[i] = result[i*cols+j]
		}
		colFFT.Coefficients(col, col)
		for i := 0; i < rows; i++ {
			result[i*cols+j] = col[i]
		}
	}

	return result
}

// ifft2D inverts fft2D and returns the real part, normalized.
func ifft2D(spec []complex128, rows, cols int) []float64 {
	rowFFT := fourier.NewCmplxFFT(cols)
	colFFT := fourier.NewCmplxFFT(rows)

	work := make([]complex128, len(spec))
	copy(work, spec)

	col := make([]complex128, rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			col[i] = work[i*cols+j]
		}
		colFFT.Sequence(col, col)
		for i := 0; i < rows; i++ {
			work[i*cols+j] = col[i]
		}
	}

	out := make([]float64, rows*cols)
	row := make([]complex128, cols)
	norm := float64(rows * cols)
	for i := 0; i < rows; i++ {
		copy(row, work[i*cols:(i+1)*cols])
		rowFFT.Sequence(row, row)
		for j := 0; j < cols; j++ {
			out[i*cols+j] = real(row[j]) / norm
		}
	}
	return out
}
