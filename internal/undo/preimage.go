package undo

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/xattr"
	"lukechampine.com/blake3"
)

// PreimageFileType classifies what kind of filesystem entry a preimage
// describes.
type PreimageFileType string

const (
	PreimageRegular   PreimageFileType = "regular"
	PreimageDirectory PreimageFileType = "directory"
	PreimageSymlink   PreimageFileType = "symlink"
)

// PreimageMetadata records everything needed to restore a path to the state
// it had when its preimage was captured.
type PreimageMetadata struct {
	RelativePath  string            `json:"relative_path"`
	ExistedBefore bool              `json:"existed_before"`
	FileType      PreimageFileType  `json:"file_type"`
	Mode          uint32            `json:"mode"`
	MtimeNs       int64             `json:"mtime_ns"`
	Size          uint64            `json:"size"`
	SymlinkTarget string            `json:"symlink_target,omitempty"`
	Xattrs        map[string][]byte `json:"xattrs"`
}

// pathHash returns a hex-encoded blake3 hash of a path, normalized to
// forward slashes, used as the on-disk filename for its preimage.
func pathHash(relativePath string) string {
	normalized := strings.ReplaceAll(relativePath, "\\", "/")
	sum := blake3.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", sum)
}

func metaPath(preimageDir, hash string) string { return filepath.Join(preimageDir, hash+".meta.json") }
func dataPath(preimageDir, hash string) string { return filepath.Join(preimageDir, hash+".dat") }

// capturePreimage captures the metadata and (for regular files) zstd-
// compressed contents of an existing path, writing both atomically via
// temp-file-then-rename.
func capturePreimage(filePath, workingRoot, preimageDir string) (PreimageMetadata, uint64, error) {
	relative, err := filepath.Rel(workingRoot, filePath)
	if err != nil || strings.HasPrefix(relative, "..") {
		return PreimageMetadata{}, 0, &PreimageError{Path: filePath, Message: "path is not under working root"}
	}

	info, err := os.Lstat(filePath)
	if err != nil {
		return PreimageMetadata{}, 0, err
	}

	var fileType PreimageFileType
	var symlinkTarget string
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		fileType = PreimageSymlink
		target, err := os.Readlink(filePath)
		if err != nil {
			return PreimageMetadata{}, 0, err
		}
		symlinkTarget = target
	case info.IsDir():
		fileType = PreimageDirectory
	default:
		fileType = PreimageRegular
	}

	mode := readMode(info)
	mtimeNs := info.ModTime().UnixNano()
	size := uint64(info.Size())
	xattrs := readXattrs(filePath)

	meta := PreimageMetadata{
		RelativePath:  strings.ReplaceAll(relative, "\\", "/"),
		ExistedBefore: true,
		FileType:      fileType,
		Mode:          mode,
		MtimeNs:       mtimeNs,
		Size:          size,
		SymlinkTarget: symlinkTarget,
		Xattrs:        xattrs,
	}

	hash := pathHash(relative)
	if err := writeMetaAtomic(preimageDir, hash, meta); err != nil {
		return PreimageMetadata{}, 0, err
	}

	var dataBytesWritten uint64
	if fileType == PreimageRegular {
		contents, err := os.ReadFile(filePath)
		if err != nil {
			return PreimageMetadata{}, 0, err
		}
		compressed, err := zstdCompress(contents)
		if err != nil {
			return PreimageMetadata{}, 0, &PreimageError{Path: filePath, Message: fmt.Sprintf("zstd compression failed: %v", err)}
		}
		dataBytesWritten = uint64(len(compressed))
		tmp := dataPath(preimageDir, hash) + ".tmp"
		if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
			return PreimageMetadata{}, 0, err
		}
		if err := os.Rename(tmp, dataPath(preimageDir, hash)); err != nil {
			return PreimageMetadata{}, 0, err
		}
	}

	return meta, dataBytesWritten, nil
}

// captureCreationMarker records that a path did not exist before the current
// step, so rollback knows to delete it.
func captureCreationMarker(filePath, workingRoot, preimageDir string) (PreimageMetadata, error) {
	relative, err := filepath.Rel(workingRoot, filePath)
	if err != nil || strings.HasPrefix(relative, "..") {
		return PreimageMetadata{}, &PreimageError{Path: filePath, Message: "path is not under working root"}
	}

	var fileType PreimageFileType
	if info, err := os.Lstat(filePath); err == nil {
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			fileType = PreimageSymlink
		case info.IsDir():
			fileType = PreimageDirectory
		default:
			fileType = PreimageRegular
		}
	} else {
		fileType = PreimageRegular
	}

	meta := PreimageMetadata{
		RelativePath:  strings.ReplaceAll(relative, "\\", "/"),
		ExistedBefore: false,
		FileType:      fileType,
		Xattrs:        map[string][]byte{},
	}

	hash := pathHash(relative)
	if err := writeMetaAtomic(preimageDir, hash, meta); err != nil {
		return PreimageMetadata{}, err
	}
	return meta, nil
}

func writeMetaAtomic(preimageDir, hash string, meta PreimageMetadata) error {
	if meta.Xattrs == nil {
		meta.Xattrs = map[string][]byte{}
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return &ManifestError{Message: err.Error()}
	}
	tmp := metaPath(preimageDir, hash) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, metaPath(preimageDir, hash))
}

// readPreimageMetadata loads a PreimageMetadata from {hash}.meta.json.
func readPreimageMetadata(preimageDir, hash string) (PreimageMetadata, error) {
	data, err := os.ReadFile(metaPath(preimageDir, hash))
	if err != nil {
		return PreimageMetadata{}, err
	}
	var meta PreimageMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return PreimageMetadata{}, &ManifestError{Message: err.Error()}
	}
	return meta, nil
}

func readMode(info os.FileInfo) uint32 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint32(stat.Mode)
	}
	if info.IsDir() {
		return 0o755
	}
	return 0o644
}

// readXattrs reads all extended attributes for a path, ignoring failures —
// xattrs are best-effort, unsupported filesystems return an empty map.
func readXattrs(path string) map[string][]byte {
	result := map[string][]byte{}
	names, err := xattr.LList(path)
	if err != nil {
		return result
	}
	sort.Strings(names)
	for _, name := range names {
		value, err := xattr.LGet(path, name)
		if err != nil {
			continue
		}
		result[name] = value
	}
	return result
}

func zstdCompress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

func zstdDecompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}
