// Package resampler converts synthesized speech between the sample rates of
// package pcm using a pure Go polyphase resampler.
//
// The engine always produces 16 kHz audio; clients that want 24 kHz or 48 kHz
// get it through a Stream:
//
//	s, err := resampler.New(pcm.L16Mono16K, pcm.L16Mono48K)
//	if err != nil {
//	    return err
//	}
//	out, err := s.Process(chunk)
package resampler
