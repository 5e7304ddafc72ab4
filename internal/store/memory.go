package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"expert-eval/internal/db"
)

// Memory is an in-process Store. Evaluator records are kept as decoded JSON
// documents so Update paths behave the same as in Postgres.
type Memory struct {
	mu         sync.Mutex
	pool       []db.PoolItem
	evaluators map[string]map[string]any
}

func NewMemory(items ...db.PoolItem) *Memory {
	return &Memory{
		pool:       slices.Clone(items),
		evaluators: map[string]map[string]any{},
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) ScanEligible(context.Context) ([]db.PoolItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]db.PoolItem, 0, len(m.pool))
	for _, it := range m.pool {
		if it.Eligible() {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *Memory) IncrementUsage(_ context.Context, questionID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for i := range m.pool {
		if m.pool[i].QuestionID == questionID {
			m.pool[i].TimesAnswered += n
			found = true
		}
	}
	if !found {
		return fmt.Errorf("question %s: %w", questionID, ErrNotFound)
	}
	return nil
}

func (m *Memory) GetQuestions(_ context.Context, ids []string) (map[string]db.PoolItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]db.PoolItem, len(ids))
	for _, it := range m.pool {
		if _, seen := out[it.QuestionID]; seen {
			continue
		}
		if slices.Contains(ids, it.QuestionID) {
			out[it.QuestionID] = it
		}
	}
	return out, nil
}

func (m *Memory) PutQuestions(_ context.Context, items []db.PoolItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range items {
		idx := slices.IndexFunc(m.pool, func(p db.PoolItem) bool { return p.QuestionID == it.QuestionID })
		if idx < 0 {
			m.pool = append(m.pool, it)
			continue
		}
		it.TimesAnswered = m.pool[idx].TimesAnswered
		m.pool[idx] = it
	}
	return nil
}

// Pool returns a copy of the pool, including duplicate entries.
func (m *Memory) Pool() []db.PoolItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.pool)
}

func (m *Memory) PutEvaluator(_ context.Context, rec *db.EvaluatorRecord) error {
	doc, err := toDoc(rec)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evaluators[rec.UserID] = doc.(map[string]any)
	return nil
}

func (m *Memory) GetEvaluator(_ context.Context, userID string) (*db.EvaluatorRecord, error) {
	m.mu.Lock()
	doc, ok := m.evaluators[userID]
	var b []byte
	var err error
	if ok {
		b, err = json.Marshal(doc)
	}
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("evaluator %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec db.EvaluatorRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode evaluator %s: %w", userID, err)
	}
	return &rec, nil
}

func (m *Memory) UpdateEvaluator(_ context.Context, userID string, u Update) error {
	if u.Empty() {
		return ErrEmptyUpdate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.evaluators[userID]
	if !ok {
		return fmt.Errorf("evaluator %s: %w", userID, ErrNotFound)
	}
	for _, c := range u.Conditions {
		if !holds(cur, c) {
			return ErrConditionFailed
		}
	}

	next := deepCopy(cur).(map[string]any)
	for _, a := range u.Set {
		v, err := toDoc(a.Value)
		if err != nil {
			return err
		}
		setPath(next, a.Path, v)
	}
	for _, a := range u.SetIfAbsent {
		if _, exists := lookup(cur, a.Path); exists {
			continue
		}
		v, err := toDoc(a.Value)
		if err != nil {
			return err
		}
		setPath(next, a.Path, v)
	}
	for _, inc := range u.Add {
		base := 0.0
		if v, ok := lookup(cur, inc.Path); ok {
			if f, ok := v.(float64); ok {
				base = f
			}
		}
		setPath(next, inc.Path, base+float64(inc.By))
	}
	m.evaluators[userID] = next
	return nil
}

func holds(doc map[string]any, c Condition) bool {
	v, exists := lookup(doc, c.Path)
	if c.Absent {
		return !exists
	}
	s, ok := v.(string)
	return exists && ok && slices.Contains(c.Equals, s)
}

// lookup treats a JSON null as absent, like jsonb #> does for missing keys.
func lookup(doc map[string]any, p Path) (any, bool) {
	var cur any = doc
	for _, k := range p {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func setPath(doc map[string]any, p Path, v any) {
	cur := doc
	for _, k := range p[:len(p)-1] {
		next, ok := cur[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[k] = next
		}
		cur = next
	}
	cur[p[len(p)-1]] = v
}

func toDoc(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
