package geozone

import (
	"encoding/json"
	"fmt"
	"io"
)

// readCapped streams r in fixed-size chunks, aborting with
// response_too_large once the cumulative length exceeds maxBytes.
func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	buf := make([]byte, 0, chunkSize)
	chunk := make([]byte, chunkSize)
	var total int64
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			total += int64(n)
			if total > maxBytes {
				return nil, fmt.Errorf("response_too_large")
			}
			buf = append(buf, chunk[:n]...)
		}
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, fmt.Errorf("request_failed:%s", err.Error())
		}
	}
}

// jsonUnmarshalObject parses body as UTF-8 JSON, requiring an object at
// the root (json_not_object) and reporting malformed input as
// invalid_json.
func jsonUnmarshalObject(body []byte, out *map[string]interface{}) error {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("invalid_json")
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("json_not_object")
	}
	*out = obj
	return nil
}
