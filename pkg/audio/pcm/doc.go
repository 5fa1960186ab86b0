// Package pcm describes the 16-bit mono PCM formats used for synthesized
// speech and converts between sample slices and their little-endian wire
// form.
//
// Key types:
//   - Format: sample rate, channels and bit depth of a stream
//
// Example usage:
//
//	format := pcm.L16Mono16K
//	raw := pcm.Int16ToBytes(samples)
//	fmt.Println(format.Duration(len(samples)))
package pcm
