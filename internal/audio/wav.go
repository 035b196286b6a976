// Package audio has the PCM16 helpers shared by capture, recognition,
// synthesis and playback.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Clip is a PCM16LE buffer with its format.
type Clip struct {
	PCM        []byte
	SampleRate int
	Channels   int
}

func (c Clip) Duration() time.Duration {
	return Duration(len(c.PCM), c.SampleRate, c.Channels)
}

// Duration of n bytes of PCM16 audio.
func Duration(n, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := n / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// BytesFor returns the PCM16 size of d at the given format.
func BytesFor(d time.Duration, sampleRate, channels int) int {
	return int(d*time.Duration(sampleRate)/time.Second) * 2 * channels
}

// WriteWAV encodes pcm into w as 16-bit WAV.
func WriteWAV(w io.WriteSeeker, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:   Samples(pcm),
	}

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// WriteWAVFile creates path and writes the clip to it.
func WriteWAVFile(path string, clip Clip) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(file, clip.PCM, clip.SampleRate, clip.Channels); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// ReadWAVFile decodes a WAV file into PCM16LE, converting other bit depths.
func ReadWAVFile(path string) (Clip, error) {
	file, err := os.Open(path)
	if err != nil {
		return Clip{}, err
	}
	defer file.Close()
	return ReadWAV(file)
}

func ReadWAV(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Clip{}, errors.New("invalid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	shift := int(dec.BitDepth) - 16
	data := buf.Data
	pcm := make([]byte, len(data)*2)
	for i, s := range data {
		switch {
		case shift > 0:
			s >>= shift
		case shift < 0:
			s <<= -shift
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(s)))
	}
	return Clip{PCM: pcm, SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}, nil
}

// WAVDuration reads only the header of a WAV file.
func WAVDuration(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	dec := wav.NewDecoder(file)
	return dec.Duration()
}

// Samples converts PCM16LE bytes to ints.
func Samples(pcm []byte) []int {
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return samples
}

// RMS of a PCM16LE buffer.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Tone renders a sine wave, used by the mock backends and tests.
func Tone(sampleRate int, hz float64, amplitude float64, d time.Duration) []byte {
	n := int(d * time.Duration(sampleRate) / time.Second)
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*hz*float64(i)/float64(sampleRate)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Silence returns d of zeroed PCM16.
func Silence(sampleRate, channels int, d time.Duration) []byte {
	return make([]byte, BytesFor(d, sampleRate, channels))
}
