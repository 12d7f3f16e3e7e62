package audio

// Int16ToFloat32 converts signed 16-bit PCM samples to float32 in [-1, 1],
// the representation the whisper bindings expect.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Int16ToBytes converts samples to 16-bit little-endian PCM bytes, the wire
// representation for the VAD classifier and streaming engines.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// BytesToInt16 is the inverse of Int16ToBytes. A trailing odd byte is
// ignored.
func BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}
