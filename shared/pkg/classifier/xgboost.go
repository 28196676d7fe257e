package classifier

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

const numFeatures = 5

// XGBoost evaluates a gradient-boosted tree ensemble saved with
// Booster.save_model("*.json"). Only gbtree boosters with numerical splits
// and a binary objective are supported.
type XGBoost struct {
	trees      []tree
	baseMargin float32
	objective  string
}

type tree struct {
	left        []int32
	right       []int32
	splitIndex  []int32
	splitCond   []float32
	defaultLeft []bool
}

// flexBool accepts 0/1 numbers as well as JSON booleans
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch s := strings.TrimSpace(string(data)); s {
	case "true", "1":
		*b = true
	case "false", "0":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", s)
	}
	return nil
}

type xgbDocument struct {
	Learner struct {
		GradientBooster struct {
			Name  string `json:"name"`
			Model struct {
				Trees []struct {
					LeftChildren    []int32    `json:"left_children"`
					RightChildren   []int32    `json:"right_children"`
					SplitIndices    []int32    `json:"split_indices"`
					SplitConditions []float32  `json:"split_conditions"`
					DefaultLeft     []flexBool `json:"default_left"`
					SplitType       []int      `json:"split_type"`
				} `json:"trees"`
				TreeInfo []int `json:"tree_info"`
			} `json:"model"`
		} `json:"gradient_booster"`
		LearnerModelParam struct {
			BaseScore  string `json:"base_score"`
			NumClass   string `json:"num_class"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
}

// LoadXGBoost reads and validates a JSON model file
func LoadXGBoost(path string) (*XGBoost, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read xgboost model: %w", err)
	}
	m, err := ParseXGBoost(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseXGBoost decodes a JSON model
func ParseXGBoost(data []byte) (*XGBoost, error) {
	var doc xgbDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse xgboost model: %w", err)
	}
	learner := doc.Learner

	if name := learner.GradientBooster.Name; name != "gbtree" {
		return nil, fmt.Errorf("unsupported booster %q", name)
	}
	if nc := parseFirstNumber(learner.LearnerModelParam.NumClass); nc > 1 {
		return nil, fmt.Errorf("multi-class models are not supported (num_class=%v)", nc)
	}
	if nf := parseFirstNumber(learner.LearnerModelParam.NumFeature); nf > numFeatures {
		return nil, fmt.Errorf("model expects %v features, have %d", nf, numFeatures)
	}

	objective := learner.Objective.Name
	baseScore := parseFirstNumber(learner.LearnerModelParam.BaseScore)
	var baseMargin float64
	switch objective {
	case "binary:logistic", "reg:logistic":
		if baseScore <= 0 || baseScore >= 1 {
			return nil, fmt.Errorf("base_score %v out of (0,1) for %s", baseScore, objective)
		}
		baseMargin = -math.Log(1/baseScore - 1)
	case "binary:logitraw":
		baseMargin = baseScore
	default:
		return nil, fmt.Errorf("unsupported objective %q", objective)
	}

	m := &XGBoost{baseMargin: float32(baseMargin), objective: objective}
	for i, t := range learner.GradientBooster.Model.Trees {
		n := len(t.LeftChildren)
		if n == 0 || len(t.RightChildren) != n || len(t.SplitIndices) != n ||
			len(t.SplitConditions) != n || len(t.DefaultLeft) != n {
			return nil, fmt.Errorf("tree %d: inconsistent node arrays", i)
		}
		for _, st := range t.SplitType {
			if st != 0 {
				return nil, fmt.Errorf("tree %d: categorical splits are not supported", i)
			}
		}
		tr := tree{
			left:        t.LeftChildren,
			right:       t.RightChildren,
			splitIndex:  t.SplitIndices,
			splitCond:   t.SplitConditions,
			defaultLeft: make([]bool, n),
		}
		for j, dl := range t.DefaultLeft {
			tr.defaultLeft[j] = bool(dl)
			if tr.left[j] == -1 {
				continue
			}
			if tr.left[j] <= 0 || int(tr.left[j]) >= n || tr.right[j] <= 0 || int(tr.right[j]) >= n {
				return nil, fmt.Errorf("tree %d node %d: child index out of range", i, j)
			}
			if tr.splitIndex[j] < 0 || tr.splitIndex[j] >= numFeatures {
				return nil, fmt.Errorf("tree %d node %d: feature %d out of range", i, j, tr.splitIndex[j])
			}
		}
		m.trees = append(m.trees, tr)
	}
	if len(m.trees) == 0 {
		return nil, fmt.Errorf("model has no trees")
	}
	return m, nil
}

// parseFirstNumber reads "5E-1" as well as the bracketed "[5E-1]" form
func parseFirstNumber(s string) float64 {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// Margin returns the raw ensemble output for the features, computed in float32
func (m *XGBoost) Margin(features [5]float64) float32 {
	var x [numFeatures]float32
	for i, v := range features {
		x[i] = float32(v)
	}
	sum := m.baseMargin
	for i := range m.trees {
		sum += m.trees[i].leafValue(&x)
	}
	return sum
}

// Probability returns the defect probability (logistic objectives)
func (m *XGBoost) Probability(features [5]float64) float64 {
	return float64(float32(sigmoid(float64(m.Margin(features)))))
}

// Predict implements Classifier
func (m *XGBoost) Predict(features [5]float64) (int8, error) {
	if m.objective == "binary:logitraw" {
		if m.Margin(features) > 0 {
			return 1, nil
		}
		return 0, nil
	}
	if m.Probability(features) > 0.5 {
		return 1, nil
	}
	return 0, nil
}

// Name implements Classifier
func (m *XGBoost) Name() string {
	return KindXGBoost
}

// Trees returns the ensemble size
func (m *XGBoost) Trees() int {
	return len(m.trees)
}

func (t *tree) leafValue(x *[numFeatures]float32) float32 {
	n := int32(0)
	for t.left[n] != -1 {
		v := x[t.splitIndex[n]]
		switch {
		case v != v: // missing
			if t.defaultLeft[n] {
				n = t.left[n]
			} else {
				n = t.right[n]
			}
		case v < t.splitCond[n]:
			n = t.left[n]
		default:
			n = t.right[n]
		}
	}
	return t.splitCond[n]
}
