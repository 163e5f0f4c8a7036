//go:build !cgo || apm_stub

package apm

// stubProcessor passes audio through untouched. It exists so this
// module builds and its tests run on hosts without the native
// webrtc_apm_wrapper library installed; selecting it on a real HFP
// deployment silently disables AEC/NS/AGC.
type stubProcessor struct {
	samplesPerBlock int
}

type stubFactory struct{}

// GetFactory returns the no-op stub Factory.
func GetFactory() Factory { return stubFactory{} }

func (stubFactory) New(sampleRate int, cfg Config) (Processor, error) {
	return &stubProcessor{samplesPerBlock: sampleRate / 100}, nil
}

func (p *stubProcessor) AnalyzeReverseStream(frame []int16) error {
	if len(frame) != p.samplesPerBlock {
		return errBlockSize
	}
	return nil
}

func (p *stubProcessor) ProcessStream(frame []int16) error {
	if len(frame) != p.samplesPerBlock {
		return errBlockSize
	}
	return nil
}

func (p *stubProcessor) Close() error { return nil }
