package drivers

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inputs is an insertion-ordered map of input id to value. The JSON form is a
// plain object whose key order matches insertion order, so a decode of an
// encoded Inputs reproduces it exactly.
type Inputs struct {
	order  []string
	values map[string]float64
}

func NewInputs() *Inputs {
	return &Inputs{values: map[string]float64{}}
}

// InputsFromMap builds Inputs from m using the order of keys.
func InputsFromMap(m map[string]float64, keys []string) *Inputs {
	in := NewInputs()
	for _, k := range keys {
		if v, ok := m[k]; ok {
			in.Set(k, v)
		}
	}
	return in
}

func (in *Inputs) init() {
	if in.values == nil {
		in.values = map[string]float64{}
	}
}

func (in *Inputs) Set(id string, v float64) {
	in.init()
	if _, ok := in.values[id]; !ok {
		in.order = append(in.order, id)
	}
	in.values[id] = v
}

func (in *Inputs) Get(id string) (float64, bool) {
	if in == nil || in.values == nil {
		return 0, false
	}
	v, ok := in.values[id]
	return v, ok
}

func (in *Inputs) Has(id string) bool {
	_, ok := in.Get(id)
	return ok
}

func (in *Inputs) Delete(id string) {
	if in == nil || in.values == nil {
		return
	}
	if _, ok := in.values[id]; !ok {
		return
	}
	delete(in.values, id)
	for i, k := range in.order {
		if k == id {
			in.order = append(in.order[:i], in.order[i+1:]...)
			break
		}
	}
}

func (in *Inputs) Keys() []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in.order...)
}

func (in *Inputs) Len() int {
	if in == nil {
		return 0
	}
	return len(in.order)
}

func (in *Inputs) Clone() *Inputs {
	out := NewInputs()
	if in == nil {
		return out
	}
	for _, k := range in.order {
		out.Set(k, in.values[k])
	}
	return out
}

// Map returns an unordered copy suitable for passing to a ValueFunc.
func (in *Inputs) Map() map[string]float64 {
	out := make(map[string]float64, in.Len())
	if in == nil {
		return out
	}
	for k, v := range in.values {
		out[k] = v
	}
	return out
}

// Equal reports whether both maps hold the same keys in the same order with
// identical values.
func (in *Inputs) Equal(other *Inputs) bool {
	if in.Len() != other.Len() {
		return false
	}
	for i, k := range in.Keys() {
		if other.order[i] != k || other.values[k] != in.values[k] {
			return false
		}
	}
	return true
}

func (in *Inputs) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if in != nil {
		for i, k := range in.order {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(in.values[k])
			if err != nil {
				return nil, fmt.Errorf("input %s: %w", k, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (in *Inputs) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*in = Inputs{values: map[string]float64{}}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("inputs: expected object, got %v", tok)
	}
	out := Inputs{values: map[string]float64{}}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return fmt.Errorf("inputs: expected string key, got %v", kt)
		}
		var v float64
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("inputs: value for %s: %w", key, err)
		}
		out.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*in = out
	return nil
}
