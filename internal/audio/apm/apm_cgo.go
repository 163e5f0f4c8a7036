//go:build cgo && !apm_stub

package apm

/*
#cgo LDFLAGS: -lwebrtc_apm_wrapper
#include <stdint.h>
#include <stdlib.h>

struct audioproc;
struct audioframe;

struct audioproc *audioproc_create();
struct audioframe *audioframe_create(int channels, int sample_rate, int samples_per_block);
void audioframe_setdata(struct audioframe *frame, int16_t *block, size_t length);
void audioframe_getdata(struct audioframe *frame, int16_t *block, size_t length);

void audioproc_destroy(struct audioproc *apm);

void audioproc_hpf_en(struct audioproc *apm, int enable);

void audioproc_aec_drift_comp_en(struct audioproc *apm, int enable);
void audioproc_aec_en(struct audioproc *apm, int enable);
void audioproc_aec_echo_ref(struct audioproc *apm, struct audioframe *frame);

void audioproc_ns_set_level(struct audioproc *apm, int level);
void audioproc_ns_en(struct audioproc *apm, int enable);

void audioproc_agc_set_level_limits(struct audioproc *apm, int low, int high);
void audioproc_agc_set_mode(struct audioproc *apm, int mode);
void audioproc_agc_en(struct audioproc *apm, int enable);

int audioproc_process(struct audioproc *apm, struct audioframe *frame);
*/
import "C"

import (
	"errors"
	"unsafe"
)

// cgoProcessor wraps the native audioproc/audioframe pair declared in
// webrtc_wrapper.h, one mono stream per instance.
type cgoProcessor struct {
	proc            *C.struct_audioproc
	nearFrame       *C.struct_audioframe
	farFrame        *C.struct_audioframe
	samplesPerBlock int
}

type cgoFactory struct{}

// GetFactory returns the cgo-backed Factory.
func GetFactory() Factory { return cgoFactory{} }

func (cgoFactory) New(sampleRate int, cfg Config) (Processor, error) {
	samplesPerBlock := sampleRate / 100
	proc := C.audioproc_create()
	if proc == nil {
		return nil, errors.New("apm: audioproc_create failed")
	}
	near := C.audioframe_create(1, C.int(sampleRate), C.int(samplesPerBlock))
	far := C.audioframe_create(1, C.int(sampleRate), C.int(samplesPerBlock))
	if near == nil || far == nil {
		C.audioproc_destroy(proc)
		return nil, errors.New("apm: audioframe_create failed")
	}

	p := &cgoProcessor{proc: proc, nearFrame: near, farFrame: far, samplesPerBlock: samplesPerBlock}
	p.applyConfig(cfg)
	return p, nil
}

func (p *cgoProcessor) applyConfig(cfg Config) {
	C.audioproc_hpf_en(p.proc, boolToC(cfg.HighPassFilter))
	C.audioproc_aec_en(p.proc, boolToC(cfg.EchoCancel))
	C.audioproc_aec_drift_comp_en(p.proc, boolToC(cfg.DriftCompensation))
	C.audioproc_ns_set_level(p.proc, C.int(cfg.NoiseSuppression))
	C.audioproc_ns_en(p.proc, 1)
	C.audioproc_agc_set_mode(p.proc, C.int(cfg.AGCMode))
	C.audioproc_agc_set_level_limits(p.proc, C.int(cfg.AGCMinLevel), C.int(cfg.AGCMaxLevel))
	C.audioproc_agc_en(p.proc, 1)
}

func boolToC(b bool) C.int {
	if b {
		return 1
	}
	return 0
}

func (p *cgoProcessor) AnalyzeReverseStream(frame []int16) error {
	if len(frame) != p.samplesPerBlock {
		return errors.New("apm: reverse stream frame size mismatch")
	}
	C.audioframe_setdata(p.farFrame, (*C.int16_t)(unsafe.Pointer(&frame[0])), C.size_t(len(frame)))
	C.audioproc_aec_echo_ref(p.proc, p.farFrame)
	return nil
}

func (p *cgoProcessor) ProcessStream(frame []int16) error {
	if len(frame) != p.samplesPerBlock {
		return errors.New("apm: process stream frame size mismatch")
	}
	C.audioframe_setdata(p.nearFrame, (*C.int16_t)(unsafe.Pointer(&frame[0])), C.size_t(len(frame)))
	if rc := C.audioproc_process(p.proc, p.nearFrame); rc != 0 {
		return errors.New("apm: audioproc_process failed")
	}
	C.audioframe_getdata(p.nearFrame, (*C.int16_t)(unsafe.Pointer(&frame[0])), C.size_t(len(frame)))
	return nil
}

func (p *cgoProcessor) Close() error {
	C.audioproc_destroy(p.proc)
	return nil
}
