package denoise

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// Deep is the second denoising tier: an ONNX noise-reduction model run
// through onnxruntime. The model takes one [1, 480] float32 chunk and
// returns the denoised chunk in the same shape.
//
// The tier is unavailable (and skipped silently by the pipeline) when no
// model is configured or loading failed; load failures are reported once,
// at construction.
type Deep struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	loaded  bool

	runFailed bool // first Run error already logged
}

// NewDeep loads the ONNX model at modelPath. An empty path yields an
// unavailable tier and no error. A failing load yields an unavailable
// tier and the load error, so the caller can report it once.
func NewDeep(modelPath string) (*Deep, error) {
	d := &Deep{}
	if modelPath == "" {
		return d, nil
	}
	if _, err := os.Stat(modelPath); err != nil {
		return d, fmt.Errorf("denoise model not found at %s: %w", modelPath, err)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return d, fmt.Errorf("initialize onnxruntime: %w", err)
	}

	input, err := ort.NewTensor(ort.NewShape(1, NativeFrameSize),
		make([]float32, NativeFrameSize))
	if err != nil {
		return d, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, NativeFrameSize))
	if err != nil {
		input.Destroy()
		return d, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return d, fmt.Errorf("create denoise session: %w", err)
	}

	d.session = session
	d.input = input
	d.output = output
	d.loaded = true
	return d, nil
}

// Name implements Tier.
func (d *Deep) Name() string { return "deep" }

// Available implements Tier.
func (d *Deep) Available() bool { return d.loaded }

// MemoryBytes implements Tier.
func (d *Deep) MemoryBytes() int {
	if !d.loaded {
		return 0
	}
	return 2 * NativeFrameSize * 4 // input + output tensors
}

// Process runs each native chunk through the model in place. Chunks for
// which inference fails pass through unchanged.
func (d *Deep) Process(frame []float32) []float32 {
	if !d.loaded {
		return frame
	}
	for off := 0; off+NativeFrameSize <= len(frame); off += NativeFrameSize {
		chunk := frame[off : off+NativeFrameSize]
		copy(d.input.GetData(), chunk)
		if err := d.session.Run(); err != nil {
			if !d.runFailed {
				d.runFailed = true
				logrus.WithFields(logrus.Fields{
					"tier":  d.Name(),
					"error": err,
				}).Warn("denoise inference failed, passing audio through")
			}
			continue
		}
		copy(chunk, d.output.GetData())
	}
	return frame
}

// Close releases the session and tensors. The tier is unavailable after.
func (d *Deep) Close() {
	if !d.loaded {
		return
	}
	d.loaded = false
	d.session.Destroy()
	d.input.Destroy()
	d.output.Destroy()
}
