// Package mock generates synthetic teleoperation episodes and writes them
// to any supported store format.
//
// Every value channel gets a paired "<name>_timestamps" array. Channels
// run at different rates, so they have different lengths and chunk
// boundaries, which is what the traversal engine has to cope with.
package mock

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/xtxerr/replay/config"
	"github.com/xtxerr/replay/internal/array"
	"github.com/xtxerr/replay/internal/array/kv"
	"github.com/xtxerr/replay/internal/array/open"
	"github.com/xtxerr/replay/internal/array/parquet"
	"github.com/xtxerr/replay/internal/array/zarr"
	"github.com/xtxerr/replay/internal/logging"
)

var log = logging.Component("mock")

// =============================================================================
// Options
// =============================================================================

// Options configures a synthetic episode.
type Options struct {
	// Duration is the recorded time span.
	Duration time.Duration

	// Start is the timestamp of the first sample.
	Start time.Time

	// ChunkLen is the chunk length of pose and joint channels. Camera
	// channels use a tenth of it.
	ChunkLen int

	// Bimanual generates left and right arms instead of a single hand.
	Bimanual bool

	// ImageSize is the edge length of camera frames. Zero disables cameras.
	ImageSize int

	// Seed makes the generated values reproducible.
	Seed uint64

	// Compressor is the zarr chunk compressor ("", "zlib", "gzip", "zstd").
	Compressor string

	// TruncateTimestamps drops one timestamp from the named channel so its
	// value and timestamp arrays disagree in length.
	TruncateTimestamps string
}

// DefaultOptions returns options for a short single-hand episode.
func DefaultOptions() Options {
	return Options{
		Duration:   10 * time.Second,
		Start:      time.Unix(1_700_000_000, 0).UTC(),
		ChunkLen:   100,
		ImageSize:  16,
		Seed:       1,
		Compressor: "zstd",
	}
}

// =============================================================================
// Channels
// =============================================================================

// channel describes one generated value array.
type channel struct {
	name   string
	kind   channelKind
	shape  []int
	rateHz float64
}

type channelKind int

const (
	kindPose channelKind = iota
	kindJoints
	kindEfforts
	kindImage
)

// Array is a generated array and the chunk length it should be stored with.
type Array struct {
	Name     string
	Data     *array.Dense
	ChunkLen int
}

func channels(opts Options) []channel {
	sides := []string{"right"}
	cameras := []string{"cameras__wrist_top", "cameras__wrist_bottom"}
	if opts.Bimanual {
		sides = []string{"left", "right"}
		cameras = []string{
			"cameras__left__wrist_top",
			"cameras__right__wrist_top",
			"cameras__left__wrist_bottom",
			"cameras__right__wrist_bottom",
		}
	}

	var out []channel
	for _, side := range sides {
		out = append(out,
			channel{name: "mimic__" + side + "__root__state_pose", kind: kindPose, shape: []int{7}, rateHz: 50},
			channel{name: "mimic__" + side + "__root__commanded_pose", kind: kindPose, shape: []int{7}, rateHz: 50},
			channel{name: "mimic__" + side + "__hand__state_joints", kind: kindJoints, shape: []int{16}, rateHz: 100},
			channel{name: "mimic__" + side + "__hand__efforts", kind: kindEfforts, shape: []int{16}, rateHz: 100},
		)
	}
	if opts.ImageSize > 0 {
		for _, cam := range cameras {
			out = append(out, channel{
				name:   cam,
				kind:   kindImage,
				shape:  []int{opts.ImageSize, opts.ImageSize, 3},
				rateHz: 15,
			})
		}
	}
	return out
}

// =============================================================================
// Generate
// =============================================================================

// Generate builds the value and timestamp arrays of an episode.
func Generate(opts Options) []Array {
	if opts.ChunkLen <= 0 {
		opts.ChunkLen = DefaultOptions().ChunkLen
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	var out []Array
	for ci, ch := range channels(opts) {
		n := int(opts.Duration.Seconds() * ch.rateHz)
		if n < 1 {
			n = 1
		}

		chunkLen := opts.ChunkLen
		if ch.kind == kindImage {
			chunkLen = max(1, opts.ChunkLen/10)
		}

		ts := timestamps(rng, opts.Start, ch.rateHz, n)
		if ch.name == opts.TruncateTimestamps && len(ts) > 0 {
			ts = ts[:len(ts)-1]
		}

		out = append(out,
			Array{Name: ch.name, Data: values(rng, ch, uint32(ci), n), ChunkLen: chunkLen},
			Array{Name: ch.name + config.TimestampSuffix, Data: array.FromInt64s(ts), ChunkLen: chunkLen},
		)
	}
	return out
}

// timestamps returns n strictly increasing nanosecond timestamps at rateHz
// with up to 10% jitter.
func timestamps(rng *rand.Rand, start time.Time, rateHz float64, n int) []int64 {
	period := float64(time.Second) / rateHz
	base := start.UnixNano()
	out := make([]int64, n)
	for i := range out {
		jitter := (rng.Float64() - 0.5) * 0.1 * period
		out[i] = base + int64(float64(i)*period+jitter)
	}
	return out
}

func values(rng *rand.Rand, ch channel, seed uint32, n int) *array.Dense {
	switch ch.kind {
	case kindPose:
		return poses(rng, n, float64(seed))
	case kindJoints:
		return joints(rng, ch.shape[0], n, float64(seed), 1.2)
	case kindEfforts:
		return joints(rng, ch.shape[0], n, float64(seed), 0.3)
	default:
		return images(ch.shape, n, seed)
	}
}

// poses generates [x y z qx qy qz qw] elements tracing a slow circle with
// a rotation about z.
func poses(rng *rand.Rand, n int, phase float64) *array.Dense {
	vals := make([]float64, 0, n*7)
	for i := 0; i < n; i++ {
		t := float64(i)/50 + phase
		yaw := 0.5 * math.Sin(t*0.7)
		vals = append(vals,
			0.4+0.1*math.Cos(t)+rng.NormFloat64()*1e-4,
			0.1*math.Sin(t)+rng.NormFloat64()*1e-4,
			0.3+0.05*math.Sin(2*t),
			0, 0, math.Sin(yaw/2), math.Cos(yaw/2),
		)
	}
	return array.FromFloat64s([]int{7}, vals)
}

// joints generates per-joint sinusoids with amplitude amp.
func joints(rng *rand.Rand, count, n int, phase, amp float64) *array.Dense {
	vals := make([]float32, 0, n*count)
	for i := 0; i < n; i++ {
		t := float64(i)/100 + phase
		for j := 0; j < count; j++ {
			v := amp*math.Sin(t*(1+0.1*float64(j))) + rng.NormFloat64()*0.01
			vals = append(vals, float32(v))
		}
	}
	return array.FromFloat32s([]int{count}, vals)
}

// images generates frames of hashed noise scrolling one pixel per frame.
// Pixels depend only on their coordinates, so frames are reproducible
// without walking a random generator.
func images(shape []int, n int, seed uint32) *array.Dense {
	h, w := shape[0], shape[1]
	data := make([]byte, 0, n*h*w*3)
	for f := 0; f < n; f++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := hash3(seed, int32(x+f), int32(y), 0)
				data = append(data, byte(v), byte(v>>8), byte(v>>16))
			}
		}
	}
	return array.FromBytes(shape, data)
}

// hash3 mixes integer coordinates and a seed into a well-distributed value.
func hash3(seed uint32, x, y, z int32) uint32 {
	h := seed
	h ^= uint32(x) * 0x9e3779b1
	h ^= uint32(y) * 0x85ebca6b
	h ^= uint32(z) * 0xc2b2ae35
	h ^= h >> 16
	h *= 0x7feb352d
	h ^= h >> 15
	h *= 0x846ca68b
	h ^= h >> 16
	return h
}

// =============================================================================
// Write
// =============================================================================

// Write generates an episode and stores it under dir in the given format.
// It returns the store location, suitable for open.Open.
func Write(format open.Format, dir string, opts Options) (string, error) {
	arrays := Generate(opts)

	var (
		location string
		err      error
	)
	switch format {
	case open.FormatZarr:
		location, err = writeZarr(dir, arrays, opts)
	case open.FormatParquet:
		location, err = writeParquet(dir, arrays)
	case open.FormatBadger:
		location, err = writeBadger(dir, arrays)
	default:
		_, err = open.ParseFormat(string(format))
	}
	if err != nil {
		return "", err
	}

	log.Info("episode written",
		"format", format,
		"location", location,
		"arrays", len(arrays),
		"duration", opts.Duration)
	return location, nil
}

func writeZarr(dir string, arrays []Array, opts Options) (string, error) {
	root := dir
	if filepath.Ext(root) != ".zarr" {
		root = filepath.Join(dir, "episode.zarr")
	}
	if err := zarr.InitGroup(root); err != nil {
		return "", err
	}
	for _, a := range arrays {
		if err := zarr.WriteArray(root, a.Name, a.Data, zarr.WriteOptions{
			ChunkLen:   a.ChunkLen,
			Compressor: opts.Compressor,
		}); err != nil {
			return "", fmt.Errorf("write %s: %w", a.Name, err)
		}
	}
	return string(open.FormatZarr) + "://" + absPath(root), nil
}

func writeParquet(dir string, arrays []Array) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	for _, a := range arrays {
		popts := parquet.DefaultOptions()
		popts.RowGroupSize = a.ChunkLen
		if err := parquet.WriteArray(dir, a.Name, a.Data, popts); err != nil {
			return "", fmt.Errorf("write %s: %w", a.Name, err)
		}
	}
	return string(open.FormatParquet) + "://" + absPath(dir), nil
}

func writeBadger(dir string, arrays []Array) (string, error) {
	s, err := kv.Open(kv.Options{Path: dir})
	if err != nil {
		return "", err
	}
	for _, a := range arrays {
		if err := s.WriteArray(a.Name, a.Data, a.ChunkLen); err != nil {
			s.Close()
			return "", fmt.Errorf("write %s: %w", a.Name, err)
		}
	}
	if err := s.Close(); err != nil {
		return "", err
	}
	return string(open.FormatBadger) + "://" + absPath(dir), nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
