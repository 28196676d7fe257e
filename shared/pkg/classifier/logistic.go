package classifier

// Logistic is the closed-form model used before the boosted trees were trained
type Logistic struct {
	Weights   [5]float64
	Intercept float64
	Cutoff    float64
}

// NewLogistic returns the legacy coefficients
func NewLogistic() *Logistic {
	return &Logistic{
		Weights:   [5]float64{318.423821, 21.601394, -26.708228, 357.830399, -0.000003},
		Intercept: -24.372392,
		Cutoff:    0.5,
	}
}

// Predict implements Classifier
func (l *Logistic) Predict(features [5]float64) (int8, error) {
	z := l.Intercept
	for i, w := range l.Weights {
		z += w * features[i]
	}
	if sigmoid(z) > l.Cutoff {
		return 1, nil
	}
	return 0, nil
}

// Name implements Classifier
func (l *Logistic) Name() string {
	return KindLogistic
}
