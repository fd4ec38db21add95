package vector

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// binWriter 以小端写出基础类型，保留第一个错误。
type binWriter struct {
	w   io.Writer
	err error
	buf [8]byte
}

func (b *binWriter) write(p []byte) {
	if b.err != nil {
		return
	}
	_, b.err = b.w.Write(p)
}

func (b *binWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(b.buf[:4], v)
	b.write(b.buf[:4])
}

func (b *binWriter) floats(v []float32) {
	b.u32(uint32(len(v)))
	chunk := make([]byte, 4*1024)
	for len(v) > 0 {
		n := len(v)
		if n > 1024 {
			n = 1024
		}
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint32(chunk[4*i:], math.Float32bits(v[i]))
		}
		b.write(chunk[:4*n])
		v = v[n:]
	}
}

func (b *binWriter) ints(v []int32) {
	b.u32(uint32(len(v)))
	for _, x := range v {
		b.u32(uint32(x))
	}
}

func (b *binWriter) bytes(v []byte) {
	b.u32(uint32(len(v)))
	b.write(v)
}

// binReader 是 binWriter 的逆过程；长度超过 limit 视为数据损坏。
type binReader struct {
	r   io.Reader
	err error
	buf [8]byte
}

const maxDecodeLen = 1 << 31

func (b *binReader) read(p []byte) {
	if b.err != nil {
		return
	}
	_, b.err = io.ReadFull(b.r, p)
}

func (b *binReader) u32() uint32 {
	b.read(b.buf[:4])
	if b.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b.buf[:4])
}

func (b *binReader) length(want int) int {
	n := int(b.u32())
	if b.err != nil {
		return 0
	}
	if n < 0 || n > maxDecodeLen || (want >= 0 && n != want) {
		b.err = fmt.Errorf("corrupt index payload: length %d, want %d", n, want)
		return 0
	}
	return n
}

// floats 读取一个 float32 数组；want >= 0 时校验长度
func (b *binReader) floats(want int) []float32 {
	n := b.length(want)
	if b.err != nil {
		return nil
	}
	raw := make([]byte, 4*n)
	b.read(raw)
	if b.err != nil {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}

func (b *binReader) ints(want int) []int32 {
	n := b.length(want)
	if b.err != nil {
		return nil
	}
	raw := make([]byte, 4*n)
	b.read(raw)
	if b.err != nil {
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}

func (b *binReader) bytes(want int) []byte {
	n := b.length(want)
	if b.err != nil {
		return nil
	}
	out := make([]byte, n)
	b.read(out)
	return out
}
