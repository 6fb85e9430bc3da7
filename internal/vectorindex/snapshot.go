package vectorindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

const (
	VectorsFile = "vectors.idx"
	RecordsFile = "records.json"
	CurrentFile = "CURRENT"

	generationPrefix = "gen-"

	snapshotVersion = 1
)

var vectorsMagic = [4]byte{'C', 'M', 'V', 'X'}

type vectorsHeader struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Count   uint64
}

type recordsFile struct {
	Version int      `json:"version"`
	Dim     int      `json:"dim"`
	Count   int      `json:"count"`
	Records []Record `json:"records"`
}

// Save writes both snapshot files into a fresh generation directory under
// dir and then swaps the CURRENT pointer to it. The rename of CURRENT is
// the only commit point: a Save that dies before it leaves the previous
// generation as the one Load sees.
func (ix *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	prev, _, err := readCurrent(dir)
	if err != nil {
		return err
	}
	gen := prev + 1
	if err := ix.writeGeneration(dir, gen); err != nil {
		return err
	}
	if err := publishGeneration(dir, gen); err != nil {
		return err
	}
	pruneGenerations(dir, gen)
	return nil
}

// writeGeneration writes the vectors and records files of one generation.
// Nothing points at the generation until publishGeneration runs.
func (ix *Index) writeGeneration(dir string, gen uint64) error {
	genDir := filepath.Join(dir, generationName(gen))
	// A directory with this name can only be left over from a Save that
	// never published.
	if err := os.RemoveAll(genDir); err != nil {
		return fmt.Errorf("clear stale generation: %w", err)
	}
	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return fmt.Errorf("create generation dir: %w", err)
	}

	vecTmp, err := writeTemp(genDir, VectorsFile, ix.writeVectors)
	if err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	if err := os.Rename(vecTmp, filepath.Join(genDir, VectorsFile)); err != nil {
		_ = os.Remove(vecTmp)
		return fmt.Errorf("commit vectors: %w", err)
	}
	recTmp, err := writeTemp(genDir, RecordsFile, ix.writeRecords)
	if err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	if err := os.Rename(recTmp, filepath.Join(genDir, RecordsFile)); err != nil {
		_ = os.Remove(recTmp)
		return fmt.Errorf("commit records: %w", err)
	}
	return syncDir(genDir)
}

func publishGeneration(dir string, gen uint64) error {
	tmp, err := writeTemp(dir, CurrentFile, func(w io.Writer) error {
		_, err := io.WriteString(w, generationName(gen)+"\n")
		return err
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", CurrentFile, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, CurrentFile)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit %s: %w", CurrentFile, err)
	}
	return syncDir(dir)
}

// pruneGenerations removes every generation other than keep along with any
// pre-generation top-level pair. Failures only cost disk space.
func pruneGenerations(dir string, keep uint64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if gen, ok := parseGeneration(e.Name()); ok && e.IsDir() && gen != keep {
			_ = os.RemoveAll(filepath.Join(dir, e.Name()))
		}
	}
	_ = os.Remove(filepath.Join(dir, VectorsFile))
	_ = os.Remove(filepath.Join(dir, RecordsFile))
}

// Load restores an index from dir. When CURRENT exists it names the
// generation to read. Without it Load falls back to a top-level pair, and
// with neither file present it returns a fresh empty index of the given
// dimension. One file without the other, or files that disagree with each
// other or with dim, are ErrInconsistentSnapshot.
func Load(dir string, dim int) (*Index, error) {
	gen, ok, err := readCurrent(dir)
	if err != nil {
		return nil, err
	}
	if ok {
		genDir := filepath.Join(dir, generationName(gen))
		if _, err := os.Stat(genDir); err != nil {
			return nil, fmt.Errorf("%w: %s names %s: %v", ErrInconsistentSnapshot, CurrentFile, generationName(gen), err)
		}
		return loadPair(genDir, dim, false)
	}
	return loadPair(dir, dim, true)
}

func loadPair(dir string, dim int, allowEmpty bool) (*Index, error) {
	vecPath := filepath.Join(dir, VectorsFile)
	recPath := filepath.Join(dir, RecordsFile)

	vecOK, err := exists(vecPath)
	if err != nil {
		return nil, err
	}
	recOK, err := exists(recPath)
	if err != nil {
		return nil, err
	}
	switch {
	case !vecOK && !recOK && allowEmpty:
		return New(dim), nil
	case !vecOK || !recOK:
		return nil, fmt.Errorf("%w: %s present=%t, %s present=%t", ErrInconsistentSnapshot, VectorsFile, vecOK, RecordsFile, recOK)
	}

	ix, err := readVectors(vecPath)
	if err != nil {
		return nil, err
	}
	if ix.dim != dim {
		return nil, fmt.Errorf("%w: snapshot dimension %d, configured %d", ErrInconsistentSnapshot, ix.dim, dim)
	}

	rf, err := readRecords(recPath)
	if err != nil {
		return nil, err
	}
	if rf.Dim != ix.dim || rf.Count != ix.count {
		return nil, fmt.Errorf("%w: vectors dim=%d count=%d, records dim=%d count=%d",
			ErrInconsistentSnapshot, ix.dim, ix.count, rf.Dim, rf.Count)
	}
	for _, rec := range rf.Records {
		if err := ix.SetRecord(rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInconsistentSnapshot, err)
		}
	}
	return ix, nil
}

// readCurrent returns the published generation, or ok=false when dir has
// never been saved with a CURRENT pointer.
func readCurrent(dir string) (gen uint64, ok bool, err error) {
	raw, err := os.ReadFile(filepath.Join(dir, CurrentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read %s: %w", CurrentFile, err)
	}
	gen, ok = parseGeneration(strings.TrimSpace(string(raw)))
	if !ok {
		return 0, false, fmt.Errorf("%w: %s holds %q", ErrInconsistentSnapshot, CurrentFile, strings.TrimSpace(string(raw)))
	}
	return gen, true, nil
}

func generationName(gen uint64) string {
	return fmt.Sprintf("%s%08d", generationPrefix, gen)
}

func parseGeneration(name string) (uint64, bool) {
	digits, found := strings.CutPrefix(name, generationPrefix)
	if !found {
		return 0, false
	}
	gen, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || gen == 0 {
		return 0, false
	}
	return gen, true
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}

func (ix *Index) writeVectors(w io.Writer) error {
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w, crc)
	hdr := vectorsHeader{
		Magic:   vectorsMagic,
		Version: snapshotVersion,
		Dim:     uint32(ix.dim),
		Count:   uint64(ix.count),
	}
	if err := binary.Write(mw, binary.LittleEndian, hdr); err != nil {
		return err
	}
	if err := binary.Write(mw, binary.LittleEndian, ix.vectors[:ix.count*ix.dim]); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, crc.Sum32())
}

func (ix *Index) writeRecords(w io.Writer) error {
	return json.NewEncoder(w).Encode(recordsFile{
		Version: snapshotVersion,
		Dim:     ix.dim,
		Count:   ix.count,
		Records: ix.Records(),
	})
}

func readVectors(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vectors: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat vectors: %w", err)
	}

	crc := crc32.NewIEEE()
	br := bufio.NewReader(f)
	r := io.TeeReader(br, crc)

	var hdr vectorsHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("%w: read vectors header: %v", ErrInconsistentSnapshot, err)
	}
	if hdr.Magic != vectorsMagic || hdr.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unrecognized vectors header", ErrInconsistentSnapshot)
	}
	wantSize := int64(binary.Size(hdr)) + int64(hdr.Count)*int64(hdr.Dim)*4 + 4
	if info.Size() != wantSize {
		return nil, fmt.Errorf("%w: vectors file is %d bytes, header implies %d", ErrInconsistentSnapshot, info.Size(), wantSize)
	}

	ix := New(int(hdr.Dim))
	ix.count = int(hdr.Count)
	ix.vectors = make([]float32, ix.count*ix.dim)
	if err := binary.Read(r, binary.LittleEndian, ix.vectors); err != nil {
		return nil, fmt.Errorf("%w: read vectors: %v", ErrInconsistentSnapshot, err)
	}
	want := crc.Sum32()

	var got uint32
	if err := binary.Read(br, binary.LittleEndian, &got); err != nil {
		return nil, fmt.Errorf("%w: read vectors checksum: %v", ErrInconsistentSnapshot, err)
	}
	if got != want {
		return nil, fmt.Errorf("%w: vectors checksum mismatch", ErrInconsistentSnapshot)
	}
	return ix, nil
}

func readRecords(path string) (recordsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return recordsFile{}, fmt.Errorf("read records: %w", err)
	}
	var rf recordsFile
	if err := json.Unmarshal(raw, &rf); err != nil {
		return recordsFile{}, fmt.Errorf("%w: decode records: %v", ErrInconsistentSnapshot, err)
	}
	if rf.Version != snapshotVersion {
		return recordsFile{}, fmt.Errorf("%w: records version %d", ErrInconsistentSnapshot, rf.Version)
	}
	return rf, nil
}

func writeTemp(dir, name string, write func(io.Writer) error) (string, error) {
	f, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	bw := bufio.NewWriter(f)
	if err := write(bw); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", filepath.Base(path), err)
}
