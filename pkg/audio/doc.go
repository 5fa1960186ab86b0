// Package audio groups the audio helpers used around the speech engine:
//
//   - pcm: 16-bit mono PCM formats and sample conversion
//   - resampler: sample rate conversion between pcm formats
//   - wav: RIFF/WAVE encoding of synthesized speech
package audio
