package analytics

import "encoding/json"

// jsonValue carries a cached payload between singleflight callers.
type jsonValue json.RawMessage

func (v *jsonValue) UnmarshalJSON(data []byte) error {
	*v = append((*v)[:0], data...)
	return nil
}

func (v jsonValue) decode(dest any) error {
	return json.Unmarshal(v, dest)
}
