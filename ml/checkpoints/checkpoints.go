// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package checkpoints implements saving and loading of parameters containers (see package params), along with
// the hyperparameters of the layer that uses them.
//
// The main object is the Handler, created by calling Build, followed by the various options and finally
// Config.Done. Each checkpoint is a pair of files in the directory: "<base name>.json" with the metadata
// (the paths and shapes of the tensors, and the hyperparameters) and "<base name>.bin" with the values.
//
// Example: save the parameters of a layer, and later create a new layer with the loaded parameters.
//
//	checkpoint, err := checkpoints.Build(*flagCheckpoint).Keep(3).Done()
//	…
//	_, err = checkpoint.Save(conv.Params(), map[string]any{"filters": 16})
//	…
//	loaded, err := checkpoint.LoadLatest()
//	conv, err = layers.NewConv2D(backend, 3, 16, 3, 3).WithParams(loaded.Params).Done()
package checkpoints

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/nnlayers/ml/params"
	"github.com/gomlx/nnlayers/types/tensors"
	"github.com/gomlx/nnlayers/types/xslices"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

var (
	// DirPermMode is the default directory creation permission (before umask) used.
	DirPermMode = os.FileMode(0770)

	// ErrNoCheckpoints is returned by Handler.LoadLatest if the directory has no checkpoints.
	ErrNoCheckpoints = errors.New("no checkpoints found")
)

// Compression of the values file.
type Compression int

const (
	// BinGZIP compresses the values with gzip. This is the default.
	BinGZIP Compression = iota

	// BinUncompressed stores the raw values.
	BinUncompressed
)

// String implements fmt.Stringer.
func (c Compression) String() string {
	switch c {
	case BinGZIP:
		return "gzip"
	case BinUncompressed:
		return "none"
	}
	return fmt.Sprintf("Compression(%d)", int(c))
}

// Config for the checkpoints Handler to be created. This is created with Build and
// configured with the various methods. Once finished, call Done.
type Config struct {
	err         error
	dir         string
	keep        int
	compression Compression
	storeAs     dtypes.DType
}

// Build a configuration for a checkpoints.Handler that saves to and loads from dir, creating it if needed.
// A leading "~" is replaced by the user's home directory.
//
// After configuring the Config object returned, call Done to get the checkpoints.Handler.
func Build(dir string) *Config {
	c := &Config{keep: 1, compression: BinGZIP, storeAs: dtypes.Float32}
	c.dir = replaceTildeInDir(dir)
	if c.dir == "" {
		c.setError(errors.Errorf("directory for checkpoints not configured or empty"))
		return c
	}
	fi, err := os.Stat(c.dir)
	if err != nil && !os.IsNotExist(err) {
		c.setError(errors.Wrapf(err, "failed to os.Stat(%q)", c.dir))
		return c
	}
	if err == nil {
		if !fi.IsDir() {
			c.setError(errors.Errorf("directory name %q exists but it's a normal file, not a directory", c.dir))
		}
		return c
	}
	if err = os.MkdirAll(c.dir, DirPermMode); err != nil {
		c.setError(errors.Wrapf(err, "trying to create dir %q", c.dir))
	}
	return c
}

// replaceTildeInDir by the user's home directory.
func replaceTildeInDir(dir string) string {
	if !strings.HasPrefix(dir, "~") {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return dir
	}
	return filepath.Join(home, dir[1:])
}

func (c *Config) setError(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Keep configures the number of checkpoints to keep. If set to -1, it will never erase older checkpoints.
// The default is 1.
func (c *Config) Keep(n int) *Config {
	if n == 0 || n < -1 {
		c.setError(errors.Errorf("checkpoints.Keep(%d): it must be > 0, or -1 to keep all", n))
		return c
	}
	c.keep = n
	return c
}

// WithCompression sets the compression of the values file. The default is BinGZIP.
func (c *Config) WithCompression(compression Compression) *Config {
	if compression != BinGZIP && compression != BinUncompressed {
		c.setError(errors.Errorf("unknown checkpoints compression %s", compression))
		return c
	}
	c.compression = compression
	return c
}

// StoreAs sets the dtype used to store the values: dtypes.Float32 (the default) or dtypes.Float16, which
// halves the size of the checkpoints at the cost of precision. Values are always loaded as Float32.
func (c *Config) StoreAs(dtype dtypes.DType) *Config {
	if dtype != dtypes.Float32 && dtype != dtypes.Float16 {
		c.setError(errors.Errorf("checkpoints can only be stored as Float32 or Float16, got %s", dtype))
		return c
	}
	c.storeAs = dtype
	return c
}

// Done creates a Handler with the current configuration.
func (c *Config) Done() (*Handler, error) {
	if c.err != nil {
		return nil, c.err
	}
	h := &Handler{config: c}
	list, err := h.ListCheckpoints()
	if err != nil {
		return nil, err
	}
	h.checkpointsCount = maxCheckPointCountFromCheckpoints(list) + 1
	return h, nil
}

// Handler saves and loads checkpoints in a directory. Create it with Build.
type Handler struct {
	config           *Config
	checkpointsCount int
}

// Loaded is the contents of a checkpoint.
type Loaded struct {
	// BaseName of the checkpoint files.
	BaseName string

	// Params holds the loaded tensors, with the same paths, order and trainable flags they were saved with.
	Params *params.Container

	// Hyperparameters saved with the checkpoint.
	Hyperparams map[string]any

	// ID of the container that was saved.
	ID string
}

// serializedData is the contents of the metadata file.
type serializedData struct {
	ContainerID string
	Compression string
	SavedAt     time.Time
	Hyperparams []serializedParam
	Variables   []serializedVar
}

// serializedVar describes where a tensor is stored in the values file.
type serializedVar struct {
	Path       string
	Dimensions []int
	DType      string
	Trainable  bool

	// Pos, Length in bytes in the (uncompressed) values.
	Pos, Length int
}

// serializedParam represents a hyperparameter.
// It includes the original ValueType, because the json decoder may
// not be capable of recovering the original type in anonymous (any) Value.
type serializedParam struct {
	Key       string
	Value     any
	ValueType string
}

// jsonDecodeTypeConvert attempts to convert the Value decoded by json into the original ValueType.
func (p *serializedParam) jsonDecodeTypeConvert() {
	switch value := p.Value.(type) {
	case float64:
		// All numbers become float64 when decoded to any.
		switch p.ValueType {
		case "int":
			p.Value = int(value)
		case "int32":
			p.Value = int32(value)
		case "int64":
			p.Value = int64(value)
		case "float32":
			p.Value = float32(value)
		}
	case []any:
		switch p.ValueType {
		case "[]int":
			p.Value = xslices.Map(value, func(fAny any) int {
				f, _ := fAny.(float64)
				return int(f)
			})
		case "[]float64":
			p.Value = xslices.Map(value, func(fAny any) float64 {
				f, _ := fAny.(float64)
				return f
			})
		case "[]string":
			p.Value = xslices.Map(value, func(sAny any) string {
				s, _ := sAny.(string)
				return s
			})
		}
	}
}

// String implements Stringer.
func (h *Handler) String() string {
	return fmt.Sprintf("checkpoints.Handler(%q)", h.config.dir)
}

// Dir returns the directory the Handler is configured to.
//
// It returns "" (empty) if the Handler is nil.
func (h *Handler) Dir() string {
	if h == nil {
		return ""
	}
	return h.config.dir
}

const (
	baseNamePrefix = "checkpoint-"
	jsonNameSuffix = ".json"
	varDataSuffix  = ".bin"
)

// newCheckpointBaseName returns the base name for the checkpoint files.
func (h *Handler) newCheckpointBaseName() string {
	now := time.Now().Format("20060102-150405")
	return fmt.Sprintf("%sn%07d-%s", baseNamePrefix, h.checkpointsCount, now)
}

// ListCheckpoints returns the base file name of the checkpoints in the directory in order (older first).
func (h *Handler) ListCheckpoints() (checkpoints []string, err error) {
	return listCheckpoints(h.config.dir)
}

func listCheckpoints(dir string) (checkpoints []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing checkpoints in %q", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fileName := entry.Name()
		if !strings.HasPrefix(fileName, baseNamePrefix) || !strings.HasSuffix(fileName, jsonNameSuffix) {
			continue
		}
		checkpoints = append(checkpoints, strings.TrimSuffix(fileName, jsonNameSuffix))
	}
	slices.Sort(checkpoints)
	return checkpoints, nil
}

// HasCheckpoints returns whether there are any checkpoints saved.
func (h *Handler) HasCheckpoints() (bool, error) {
	list, err := h.ListCheckpoints()
	return len(list) > 0, err
}

var checkpointCountRegex = regexp.MustCompile(`^checkpoint-n(\d+)-`)

// maxCheckPointCountFromCheckpoints returns the largest count in the saved checkpoints, so the next
// checkpoint saved uses this count+1.
func maxCheckPointCountFromCheckpoints(checkpoints []string) int {
	maxID := -1
	for _, name := range checkpoints {
		matches := checkpointCountRegex.FindStringSubmatch(name)
		if len(matches) != 2 {
			continue
		}
		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}
		maxID = max(maxID, id)
	}
	return maxID
}

// Save creates a new checkpoint with the tensors of the container and the given hyperparameters, which are
// (de-)serialized with encoding/json. Older checkpoints in excess of Keep are removed.
//
// It returns the base name of the new checkpoint.
func (h *Handler) Save(c *params.Container, hyperparams map[string]any) (baseName string, err error) {
	if c == nil {
		return "", errors.Errorf("%s: nil container to save", h)
	}
	serialized := &serializedData{
		ContainerID: c.ID(),
		Compression: h.config.compression.String(),
		SavedAt:     time.Now(),
	}
	keys := make([]string, 0, len(hyperparams))
	for key := range hyperparams {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		value := hyperparams[key]
		serialized.Hyperparams = append(serialized.Hyperparams,
			serializedParam{Key: key, Value: value, ValueType: fmt.Sprintf("%T", value)})
	}

	baseName = h.newCheckpointBaseName()
	h.checkpointsCount++
	varFileName := filepath.Join(h.config.dir, baseName+varDataSuffix)
	jsonFileName := filepath.Join(h.config.dir, baseName+jsonNameSuffix)
	complete := false
	defer func() {
		if !complete {
			h.removeIncomplete(jsonFileName, varFileName)
		}
	}()
	varFile, err := os.Create(varFileName)
	if err != nil {
		return "", errors.Wrapf(err, "%s: failed to create checkpoint data file %s", h, varFileName)
	}
	buffered := bufio.NewWriter(varFile)
	var writer io.Writer = buffered
	var gzipWriter *gzip.Writer
	if h.config.compression == BinGZIP {
		gzipWriter, err = gzip.NewWriterLevel(buffered, gzip.BestSpeed)
		if err != nil {
			_ = varFile.Close()
			return "", errors.Wrapf(err, "%s: failed to create gzip writer", h)
		}
		gzipWriter.Name = baseName + varDataSuffix
		gzipWriter.ModTime = serialized.SavedAt
		writer = gzipWriter
	}

	pos := 0
	for path, t := range c.Walk() {
		var n int
		n, err = writeValues(writer, t, h.config.storeAs)
		if err != nil {
			_ = varFile.Close()
			return "", errors.WithMessagef(err, "%s: failed to write variable %q", h, path)
		}
		serialized.Variables = append(serialized.Variables, serializedVar{
			Path:       path,
			Dimensions: slices.Clone(t.Shape().Dimensions),
			DType:      h.config.storeAs.String(),
			Trainable:  t.IsVariable(),
			Pos:        pos,
			Length:     n,
		})
		pos += n
	}
	if gzipWriter != nil {
		if err = gzipWriter.Close(); err != nil {
			_ = varFile.Close()
			return "", errors.Wrapf(err, "%s: failed to close gzip stream of %s", h, varFileName)
		}
	}
	if err = buffered.Flush(); err != nil {
		_ = varFile.Close()
		return "", errors.Wrapf(err, "%s: failed to write checkpoint data file %s", h, varFileName)
	}
	if err = varFile.Close(); err != nil {
		return "", errors.Wrapf(err, "%s: failed to close checkpoint data file %s", h, varFileName)
	}

	// Metadata is written last: a checkpoint is only listed once it is complete.
	jsonFile, err := os.Create(jsonFileName)
	if err != nil {
		return "", errors.Wrapf(err, "%s: failed to create checkpoint metadata file %s", h, jsonFileName)
	}
	enc := json.NewEncoder(jsonFile)
	enc.SetIndent("", "\t")
	if err = enc.Encode(serialized); err != nil {
		_ = jsonFile.Close()
		return "", errors.Wrapf(err, "%s: failed to write checkpoint metadata file %s", h, jsonFileName)
	}
	if err = jsonFile.Close(); err != nil {
		return "", errors.Wrapf(err, "%s: failed to close checkpoint metadata file %s", h, jsonFileName)
	}
	complete = true
	klog.V(1).Infof("%s: saved container %s (%d variables) to %s", h, c.ID(), len(serialized.Variables), baseName)
	return baseName, h.keepNCheckpoints()
}

// removeIncomplete removes the files of a checkpoint whose Save failed, and gives its number back.
func (h *Handler) removeIncomplete(fileNames ...string) {
	for _, fileName := range fileNames {
		if err := os.Remove(fileName); err != nil && !os.IsNotExist(err) {
			klog.Warningf("%s: failed to remove incomplete checkpoint file %q: %v", h, fileName, err)
		}
	}
	h.checkpointsCount--
}

// writeValues writes the values of t as little-endian dtype values, and returns the number of bytes written.
func writeValues(w io.Writer, t *tensors.Tensor, dtype dtypes.DType) (n int, err error) {
	var buf []byte
	t.ConstFlatData(func(flat []float32) {
		if dtype == dtypes.Float16 {
			buf = make([]byte, 2*len(flat))
			for ii, v := range flat {
				binary.LittleEndian.PutUint16(buf[2*ii:], float16.Fromfloat32(v).Bits())
			}
			return
		}
		buf = make([]byte, 4*len(flat))
		for ii, v := range flat {
			binary.LittleEndian.PutUint32(buf[4*ii:], math.Float32bits(v))
		}
	})
	return w.Write(buf)
}

// readValues reads the values of the variable, converting them to float32.
func readValues(r io.Reader, v serializedVar) (*tensors.Tensor, error) {
	for _, dim := range v.Dimensions {
		if dim <= 0 {
			return nil, errors.Errorf("variable %q has invalid dimensions %v, all must be > 0", v.Path, v.Dimensions)
		}
	}
	size := xslices.Product(v.Dimensions)
	var bytesPerValue int
	switch v.DType {
	case dtypes.Float32.String():
		bytesPerValue = 4
	case dtypes.Float16.String():
		bytesPerValue = 2
	default:
		return nil, errors.Errorf("unsupported stored dtype %q", v.DType)
	}
	if v.Length != size*bytesPerValue {
		return nil, errors.Errorf("variable with dimensions %v stored as %s should have %d bytes, metadata says %d",
			v.Dimensions, v.DType, size*bytesPerValue, v.Length)
	}
	buf := make([]byte, v.Length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrapf(err, "reading %d bytes at position %d", v.Length, v.Pos)
	}
	flat := make([]float32, size)
	for ii := range flat {
		if bytesPerValue == 2 {
			flat[ii] = float16.Frombits(binary.LittleEndian.Uint16(buf[2*ii:])).Float32()
		} else {
			flat[ii] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*ii:]))
		}
	}
	t := tensors.FromFlatData(flat, v.Dimensions...)
	if v.Trainable {
		t = t.AsVariable()
	}
	return t, nil
}

// LoadLatest loads the most recent checkpoint. It returns an error wrapping ErrNoCheckpoints if there are none.
func (h *Handler) LoadLatest() (*Loaded, error) {
	list, err := h.ListCheckpoints()
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrapf(ErrNoCheckpoints, "%s", h)
	}
	return h.Load(xslices.Last(list))
}

// Load the checkpoint with the given base name (see ListCheckpoints).
//
// The tensors are loaded on tensors.DefaultDevice.
func (h *Handler) Load(baseName string) (*Loaded, error) {
	loaded, err := Load(h.config.dir, baseName)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", h)
	}
	return loaded, nil
}

// ReadMetadata reads only the metadata of a checkpoint: the hyperparameters, and the paths, dimensions and stored
// dtypes of the tensors, without loading their values.
func ReadMetadata(dir, baseName string) (*Metadata, error) {
	serialized, err := readSerialized(dir, baseName)
	if err != nil {
		return nil, err
	}
	m := &Metadata{
		BaseName:    baseName,
		ContainerID: serialized.ContainerID,
		Compression: serialized.Compression,
		SavedAt:     serialized.SavedAt,
		Hyperparams: hyperparamsMap(serialized.Hyperparams),
	}
	for _, v := range serialized.Variables {
		m.Variables = append(m.Variables, VariableInfo{
			Path: v.Path, Dimensions: v.Dimensions, DType: v.DType, Trainable: v.Trainable, Length: v.Length})
	}
	return m, nil
}

// Metadata of a checkpoint, see ReadMetadata.
type Metadata struct {
	BaseName, ContainerID, Compression string
	SavedAt                            time.Time
	Hyperparams                        map[string]any
	Variables                          []VariableInfo
}

// VariableInfo describes a stored tensor.
type VariableInfo struct {
	Path       string
	Dimensions []int
	DType      string
	Trainable  bool

	// Length in bytes of the stored (uncompressed) values.
	Length int
}

func readSerialized(dir, baseName string) (*serializedData, error) {
	jsonFileName := filepath.Join(dir, baseName+jsonNameSuffix)
	jsonFile, err := os.Open(jsonFileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint metadata file %s", jsonFileName)
	}
	defer func() { _ = jsonFile.Close() }()
	var serialized serializedData
	if err = json.NewDecoder(jsonFile).Decode(&serialized); err != nil {
		return nil, errors.Wrapf(err, "failed to decode contents of checkpoint metadata file %s", jsonFileName)
	}
	return &serialized, nil
}

func hyperparamsMap(serialized []serializedParam) map[string]any {
	hyperparams := make(map[string]any, len(serialized))
	for ii := range serialized {
		serialized[ii].jsonDecodeTypeConvert()
		hyperparams[serialized[ii].Key] = serialized[ii].Value
	}
	return hyperparams
}

// Load reads the checkpoint baseName from dir, without the need of a Handler.
func Load(dir, baseName string) (*Loaded, error) {
	serialized, err := readSerialized(dir, baseName)
	if err != nil {
		return nil, err
	}
	varFileName := filepath.Join(dir, baseName+varDataSuffix)
	varFile, err := os.Open(varFileName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open checkpoint data file %s", varFileName)
	}
	defer func() { _ = varFile.Close() }()
	var reader io.Reader = bufio.NewReader(varFile)
	if serialized.Compression == BinGZIP.String() {
		gzipReader, err := gzip.NewReader(reader)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read gzip header of %s", varFileName)
		}
		defer func() { _ = gzipReader.Close() }()
		reader = gzipReader
	}

	paths := make([]string, 0, len(serialized.Variables))
	values := make([]*tensors.Tensor, 0, len(serialized.Variables))
	for _, v := range serialized.Variables {
		t, err := readValues(reader, v)
		if err != nil {
			return nil, errors.WithMessagef(err, "checkpoint data file %s, variable %q", varFileName, v.Path)
		}
		paths = append(paths, v.Path)
		values = append(values, t)
	}
	c, err := params.FromFlat(paths, values)
	if err != nil {
		return nil, errors.WithMessagef(err, "checkpoint %s", baseName)
	}
	klog.V(1).Infof("loaded checkpoint %s (%d variables, saved from container %s) as container %s",
		baseName, len(paths), serialized.ContainerID, c.ID())
	return &Loaded{
		BaseName:    baseName,
		Params:      c,
		Hyperparams: hyperparamsMap(serialized.Hyperparams),
		ID:          serialized.ContainerID,
	}, nil
}

// keepNCheckpoints removes the oldest checkpoints in excess of the configured number to keep.
func (h *Handler) keepNCheckpoints() error {
	if h.config.keep < 0 {
		return nil
	}
	list, err := h.ListCheckpoints()
	if err != nil {
		return errors.WithMessagef(err, "%s failed to list saved checkpoints", h)
	}
	if len(list) <= h.config.keep {
		return nil
	}
	for _, baseName := range list[:len(list)-h.config.keep] {
		// Remove the metadata first, so a partially removed checkpoint is not listed.
		for _, suffix := range []string{jsonNameSuffix, varDataSuffix} {
			fileName := filepath.Join(h.config.dir, baseName+suffix)
			if err = os.Remove(fileName); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "%s failed to remove excess checkpoint file %q", h, fileName)
			}
		}
		klog.V(1).Infof("%s: removed checkpoint %s", h, baseName)
	}
	return nil
}
