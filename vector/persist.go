package vector

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
)

// 索引文件布局：
//
//	magic(8) | headerLen(u32) | header(JSON) | payload(族内部数据) | crc32(u32，覆盖之前所有字节)
//
// 向量、id 映射与参数写在同一个文件中，保证三者版本一致。
var fileMagic = [8]byte{'P', 'H', 'X', 'I', 'D', 'X', '0', '1'}

// ErrCorruptIndex 表示索引文件损坏（校验和或格式错误）
var ErrCorruptIndex = errors.New("vector: corrupt index file")

type fileHeader struct {
	Family  string    `json:"family"`
	Params  Params    `json:"params"`
	Count   int       `json:"count"`
	Dim     int       `json:"dim"`
	Version int64     `json:"version"`
	BuiltAt time.Time `json:"builtAt"`
	IDs     []string  `json:"ids"`
}

// SaveSnapshot 原子写入快照：先写临时文件再 rename。
func SaveSnapshot(path string, snap *Snapshot) error {
	var buf bytes.Buffer
	buf.Write(fileMagic[:])
	hdr, err := json.Marshal(fileHeader{
		Family:  snap.Spec.Family.String(),
		Params:  snap.Spec.Params,
		Count:   snap.Index.Len(),
		Dim:     snap.Index.Dim(),
		Version: snap.Version,
		BuiltAt: snap.BuiltAt,
		IDs:     snap.Mapping.IDs(),
	})
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(hdr)))
	buf.Write(hdr)
	if err := snap.Index.encode(&buf); err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	_ = binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(buf.Bytes()))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadSnapshot 读取并校验快照文件。
// 文件不存在时返回的错误满足 errors.Is(err, os.ErrNotExist)；损坏时满足 errors.Is(err, ErrCorruptIndex)。
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < len(fileMagic)+8 || !bytes.Equal(data[:len(fileMagic)], fileMagic[:]) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptIndex)
	}
	body, sum := data[:len(data)-4], binary.LittleEndian.Uint32(data[len(data)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptIndex)
	}
	rest := body[len(fileMagic):]
	hdrLen := int(binary.LittleEndian.Uint32(rest[:4]))
	if hdrLen <= 0 || 4+hdrLen > len(rest) {
		return nil, fmt.Errorf("%w: bad header length", ErrCorruptIndex)
	}
	var hdr fileHeader
	if err := json.Unmarshal(rest[4:4+hdrLen], &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptIndex, err)
	}
	family, err := ParseFamily(hdr.Family)
	if err != nil || family == FamilyAuto {
		return nil, fmt.Errorf("%w: family %q", ErrCorruptIndex, hdr.Family)
	}
	if hdr.Count <= 0 || hdr.Dim <= 0 || len(hdr.IDs) != hdr.Count {
		return nil, fmt.Errorf("%w: count %d dim %d ids %d", ErrCorruptIndex, hdr.Count, hdr.Dim, len(hdr.IDs))
	}
	mapping, err := NewIDMapping(hdr.IDs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	codec, err := lookupFamily(family)
	if err != nil {
		return nil, err
	}
	idx, err := codec.decode(bytes.NewReader(rest[4+hdrLen:]), hdr.Params, hdr.Count, hdr.Dim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	return &Snapshot{
		Index:   idx,
		Mapping: mapping,
		Spec:    IndexSpec{Family: family, Params: hdr.Params},
		Version: hdr.Version,
		BuiltAt: hdr.BuiltAt,
	}, nil
}
