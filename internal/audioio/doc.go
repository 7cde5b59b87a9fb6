// Package audioio moves raw PCM bytes between an audio device and user code
// through a ring of recycled fixed-size buffer descriptors.
//
// A device backend signals buffer completion from a restricted notification
// context: the audio driver's callback thread. That context only pushes the
// descriptor tag onto a CompletionChannel. Each engine owns one worker
// goroutine that pops tags in submission order and does the real work:
//
//	capture: copy recorded bytes out, call ReceiveFunc, resubmit or release
//	render:  release the played descriptor, call SupplyFunc, submit new data
//
// Engines never convert, resample or mix. The byte stream contract is:
// 8-bit samples are unsigned with a 128 baseline, 16-bit samples are signed
// little-endian, and channels are interleaved per frame.
//
// Typical capture use:
//
//	b, err := malgo.New()
//	if err != nil { ... }
//	eng, err := audioio.OpenCapture(b.Opener(), format, audioio.DefaultDevice)
//	if err != nil { ... }
//	err = eng.Start(func(p []byte) error { return sink.Write(p) }, 0, 2)
//	...
//	eng.Stop()
//	_ = eng.WaitIdle(ctx)
//	_ = eng.Close()
package audioio
