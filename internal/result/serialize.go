package result

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hanpama/legend/internal/graphfetch"
)

// Serialize writes r as JSON. Streamed objects are written as they are
// pulled and pruned to the builder's graph fetch tree. Serialize closes r.
//
//	constant:  {"values": ...}
//	error:     {"error": {"code": 1, "message": "...", "payload": ...}}
//	multi:     {"results": {"name": ..., "@LAST": ...}}
//	streaming: {"builder": {...}, "values": [...]}
func Serialize(w io.Writer, r Result) (err error) {
	defer func() {
		if cerr := closeResult(r); err == nil {
			err = cerr
		}
	}()
	bw := bufio.NewWriter(w)
	if err := writeResult(bw, r); err != nil {
		return err
	}
	if _, err := bw.WriteString("\n"); err != nil {
		return err
	}
	return bw.Flush()
}

func closeResult(r Result) error {
	if r == nil {
		return nil
	}
	return r.Close()
}

func writeResult(w *bufio.Writer, r Result) error {
	switch v := r.(type) {
	case nil:
		return writeJSON(w, map[string]any{"values": nil})
	case *Constant:
		if seq, ok := v.Value.(Seq); ok {
			w.WriteString(`{"values":`)
			if err := writeSeq(w, seq, nil); err != nil {
				return err
			}
			return w.WriteByte('}')
		}
		return writeJSON(w, map[string]any{"values": v.Value})
	case *Error:
		return writeJSON(w, map[string]any{"error": map[string]any{"code": v.Code, "message": v.Message, "payload": v.Payload}})
	case *Multi:
		w.WriteString(`{"results":{`)
		for i, name := range v.Names() {
			if i > 0 {
				w.WriteByte(',')
			}
			if err := writeJSON(w, name); err != nil {
				return err
			}
			w.WriteByte(':')
			if err := writeResult(w, v.Results[name]); err != nil {
				return err
			}
		}
		w.WriteString(`}}`)
		return nil
	case *StreamingObject:
		w.WriteString(`{"builder":`)
		if err := writeJSON(w, v.Builder()); err != nil {
			return err
		}
		w.WriteString(`,"values":`)
		if err := writeSeq(w, v.Objects(), v.Builder().Tree); err != nil {
			return err
		}
		return w.WriteByte('}')
	default:
		return fmt.Errorf("result: cannot serialize %T", r)
	}
}

func writeSeq(w *bufio.Writer, seq Seq, tree *graphfetch.Tree) error {
	w.WriteByte('[')
	i := 0
	for obj, err := range seq {
		if err != nil {
			return err
		}
		if i > 0 {
			w.WriteByte(',')
		}
		if err := writeJSON(w, graphfetch.Prune(tree, obj)); err != nil {
			return err
		}
		i++
	}
	return w.WriteByte(']')
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
