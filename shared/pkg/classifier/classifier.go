// Package classifier turns the five image metrics into a defect decision.
package classifier

import (
	"fmt"
	"math"
)

// Kinds accepted by New
const (
	KindXGBoost  = "xgboost"
	KindLogistic = "logistic"
)

// DefaultModelFile is the artifact name looked up under the model root
const DefaultModelFile = "xgboost_model.json"

// Classifier maps [MAE, SSIM, GradMAE, LaplacianDiff, PixelSum] to a label in {0,1}
type Classifier interface {
	Predict(features [5]float64) (int8, error)
	Name() string
}

// New builds the classifier selected by kind. modelPath is only used by xgboost.
func New(kind, modelPath string) (Classifier, error) {
	switch kind {
	case KindXGBoost, "":
		return LoadXGBoost(modelPath)
	case KindLogistic:
		return NewLogistic(), nil
	default:
		return nil, fmt.Errorf("unknown classifier kind %q (want %s or %s)", kind, KindXGBoost, KindLogistic)
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Fusion applies a classifier and the zero-area override
type Fusion struct {
	classifier Classifier
}

// NewFusion wraps a classifier
func NewFusion(c Classifier) *Fusion {
	return &Fusion{classifier: c}
}

// Classify returns the fused label. A zero PixelSum is never a defect.
func (f *Fusion) Classify(features [5]float64) (int8, error) {
	if features[4] == 0 {
		return 0, nil
	}
	label, err := f.classifier.Predict(features)
	if err != nil {
		return 0, fmt.Errorf("%s predict: %w", f.classifier.Name(), err)
	}
	return label, nil
}

// Name reports the wrapped classifier
func (f *Fusion) Name() string {
	return f.classifier.Name()
}
