// Package safetensors 读写 safetensors 格式的模型权重（仅支持 F32）。
//
// 文件布局：8 字节小端 header 长度 N，N 字节 JSON header，随后为紧凑排列的张量数据。
package safetensors

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/goccy/go-json"
)

// Tensor 是一个 float32 张量
type Tensor struct {
	Shape []int
	Data  []float32
}

// Numel 返回元素个数
func (t *Tensor) Numel() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

type headerEntry struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// maxHeaderSize 限制 header 大小，避免损坏文件导致大内存分配
const maxHeaderSize = 100 << 20

// Load 读取文件中所有张量。
func Load(path string) (map[string]*Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read 从 reader 读取所有张量。
func Read(r io.Reader) (map[string]*Tensor, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read header size: %w", err)
	}
	if n == 0 || n > maxHeaderSize {
		return nil, fmt.Errorf("invalid header size %d", n)
	}
	hdr := make([]byte, n)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(hdr, &raw); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	out := make(map[string]*Tensor, len(raw))
	for name, msg := range raw {
		if name == "__metadata__" {
			continue
		}
		var e headerEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		if e.DType != "F32" {
			return nil, fmt.Errorf("tensor %s: unsupported dtype %s", name, e.DType)
		}
		begin, end := e.DataOffsets[0], e.DataOffsets[1]
		if begin < 0 || end > len(data) || begin > end || (end-begin)%4 != 0 {
			return nil, fmt.Errorf("tensor %s: invalid offsets [%d,%d)", name, begin, end)
		}
		t := &Tensor{Shape: e.Shape, Data: make([]float32, (end-begin)/4)}
		if t.Numel() != len(t.Data) {
			return nil, fmt.Errorf("tensor %s: shape %v does not match %d elements", name, e.Shape, len(t.Data))
		}
		for i := range t.Data {
			t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[begin+4*i:]))
		}
		out[name] = t
	}
	return out, nil
}

// Save 写入张量到文件；张量按名称排序排列，输出可复现。
func Save(path string, tensors map[string]*Tensor) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, tensors); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Write 写入张量到 writer。
func Write(w io.Writer, tensors map[string]*Tensor) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]headerEntry, len(names))
	offset := 0
	for _, name := range names {
		t := tensors[name]
		size := 4 * len(t.Data)
		header[name] = headerEntry{DType: "F32", Shape: t.Shape, DataOffsets: [2]int{offset, offset + size}}
		offset += size
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// header 长度按 8 字节对齐
	for len(hdr)%8 != 0 {
		hdr = append(hdr, ' ')
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(hdr))); err != nil {
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		return err
	}
	buf := make([]byte, 4)
	for _, name := range names {
		for _, v := range tensors[name].Data {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}
