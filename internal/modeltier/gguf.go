package modeltier

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// =============================================================================
// GGUF Metadata Reader
// =============================================================================
// Local models ship as GGUF files whose key-value header carries what the
// tier resolver needs: the parameter count, or failing that a size label.
// Only the header is read; tensor data is never touched.

const ggufMagic = "GGUF"

// GGUF metadata value types.
const (
	ggufUint8   = 0
	ggufInt8    = 1
	ggufUint16  = 2
	ggufInt16   = 3
	ggufUint32  = 4
	ggufInt32   = 5
	ggufFloat32 = 6
	ggufBool    = 7
	ggufString  = 8
	ggufArray   = 9
	ggufUint64  = 10
	ggufInt64   = 11
	ggufFloat64 = 12
)

// Sanity bounds against corrupt headers.
const (
	maxKVCount   = 1 << 16
	maxStringLen = 64 << 20
	maxArrayLen  = 1 << 24
)

// Metadata is the decoded GGUF header. Array values are skipped; scalar
// and string values land in KV.
type Metadata struct {
	Version     uint32
	TensorCount uint64
	KV          map[string]interface{}
}

// ReadGGUF decodes the metadata header of the GGUF file at path.
func ReadGGUF(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeGGUF(bufio.NewReader(f))
}

func decodeGGUF(r io.Reader) (*Metadata, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("gguf: read magic: %w", err)
	}
	if string(magic) != ggufMagic {
		return nil, fmt.Errorf("gguf: bad magic %q", magic)
	}

	md := &Metadata{KV: make(map[string]interface{})}
	if err := binary.Read(r, binary.LittleEndian, &md.Version); err != nil {
		return nil, fmt.Errorf("gguf: read version: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &md.TensorCount); err != nil {
		return nil, fmt.Errorf("gguf: read tensor count: %w", err)
	}
	var kvCount uint64
	if err := binary.Read(r, binary.LittleEndian, &kvCount); err != nil {
		return nil, fmt.Errorf("gguf: read kv count: %w", err)
	}
	if kvCount > maxKVCount {
		return nil, fmt.Errorf("gguf: implausible kv count %d", kvCount)
	}

	for i := uint64(0); i < kvCount; i++ {
		key, err := readGGUFString(r)
		if err != nil {
			return nil, fmt.Errorf("gguf: read key %d: %w", i, err)
		}
		var typ uint32
		if err := binary.Read(r, binary.LittleEndian, &typ); err != nil {
			return nil, fmt.Errorf("gguf: read type of %s: %w", key, err)
		}
		val, err := readGGUFValue(r, typ)
		if err != nil {
			return nil, fmt.Errorf("gguf: read value of %s: %w", key, err)
		}
		if val != nil {
			md.KV[key] = val
		}
	}
	return md, nil
}

// readGGUFValue decodes one value. Arrays return nil: their elements are
// consumed but not kept, since nothing downstream needs them.
func readGGUFValue(r io.Reader, typ uint32) (interface{}, error) {
	switch typ {
	case ggufUint8:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	case ggufInt8:
		var v int8
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case ggufUint16:
		var v uint16
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	case ggufInt16:
		var v int16
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case ggufUint32:
		var v uint32
		err := binary.Read(r, binary.LittleEndian, &v)
		return uint64(v), err
	case ggufInt32:
		var v int32
		err := binary.Read(r, binary.LittleEndian, &v)
		return int64(v), err
	case ggufFloat32:
		var v float32
		err := binary.Read(r, binary.LittleEndian, &v)
		return float64(v), err
	case ggufBool:
		var v uint8
		err := binary.Read(r, binary.LittleEndian, &v)
		return v != 0, err
	case ggufString:
		return readGGUFString(r)
	case ggufUint64:
		var v uint64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case ggufInt64:
		var v int64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case ggufFloat64:
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case ggufArray:
		var elemType uint32
		if err := binary.Read(r, binary.LittleEndian, &elemType); err != nil {
			return nil, err
		}
		var n uint64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		if n > maxArrayLen {
			return nil, fmt.Errorf("implausible array length %d", n)
		}
		for i := uint64(0); i < n; i++ {
			if _, err := readGGUFValue(r, elemType); err != nil {
				return nil, err
			}
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown value type %d", typ)
	}
}

func readGGUFString(r io.Reader) (string, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", fmt.Errorf("implausible string length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ParamCount extracts the parameter count from the metadata: the explicit
// count key first, then the size label, then a size token in the name.
func (md *Metadata) ParamCount() int64 {
	if v, ok := md.KV["general.parameter_count"]; ok {
		switch n := v.(type) {
		case uint64:
			if n <= math.MaxInt64 {
				return int64(n)
			}
		case int64:
			return n
		case float64:
			return int64(n)
		}
	}
	if label, ok := md.KV["general.size_label"].(string); ok {
		if n := EstimateFromName(label); n > 0 {
			return n
		}
	}
	for _, key := range []string{"general.name", "general.basename"} {
		if name, ok := md.KV[key].(string); ok {
			if n := EstimateFromName(name); n > 0 {
				return n
			}
		}
	}
	return 0
}

// ResolveModelFile reads a GGUF file and resolves its tier profile in
// one step.
func ResolveModelFile(path string) (Profile, error) {
	md, err := ReadGGUF(path)
	if err != nil {
		return Profile{}, err
	}
	return Resolve(md.ParamCount()), nil
}
