package cache

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	recordPlain byte = 0
	recordZstd  byte = 1
)

// ErrCorrupt 表示持久化记录无法解码。
var ErrCorrupt = errors.New("corrupt cache record")

// record 是条目在磁盘/数据库/redis 中的存储形态，携带原始 key 以便 Keys 枚举。
type record struct {
	Key      string              `msgpack:"k"`
	Status   int                 `msgpack:"s"`
	Header   map[string][]string `msgpack:"h"`
	Body     []byte              `msgpack:"b"`
	StoredAt time.Time           `msgpack:"t"`
}

// Codec 将 Response 编码为字节：1 字节格式标记 + msgpack（可选 zstd 压缩）。
// 解码按标记识别格式，开关压缩不影响已写入的旧记录。
type Codec struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder

	closeOnce sync.Once
	closed    bool
}

// NewCodec 构建编解码器，compress 为 true 时写入 zstd 压缩记录。
func NewCodec(compress bool) (*Codec, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}
	return &Codec{compress: compress, enc: enc, dec: dec}, nil
}

// Encode 编码一条记录。
func (c *Codec) Encode(key string, resp *Response) ([]byte, error) {
	rec := record{
		Key:      key,
		Status:   resp.StatusCode,
		Header:   map[string][]string(resp.Header),
		Body:     resp.Body,
		StoredAt: resp.StoredAt,
	}
	payload, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	if !c.compress {
		return append([]byte{recordPlain}, payload...), nil
	}
	out := make([]byte, 1, len(payload)/2+1)
	out[0] = recordZstd
	return c.enc.EncodeAll(payload, out), nil
}

// Decode 解码记录，返回原始 key 与响应。
func (c *Codec) Decode(b []byte) (string, *Response, error) {
	if len(b) < 1 {
		return "", nil, ErrCorrupt
	}
	payload := b[1:]
	switch b[0] {
	case recordPlain:
	case recordZstd:
		raw, err := c.dec.DecodeAll(payload, nil)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		payload = raw
	default:
		return "", nil, ErrCorrupt
	}

	var rec record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	resp := &Response{
		StatusCode: rec.Status,
		Header:     http.Header(rec.Header),
		Body:       rec.Body,
		StoredAt:   rec.StoredAt,
	}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	return rec.Key, resp, nil
}

// Close 释放 zstd 资源，可重复调用。
func (c *Codec) Close() {
	c.closeOnce.Do(func() {
		c.enc.Close()
		c.dec.Close()
		c.closed = true
	})
}
