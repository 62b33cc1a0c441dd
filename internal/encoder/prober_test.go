package encoder

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hszk-dev/hlsforge/internal/domain/model"
	"github.com/hszk-dev/hlsforge/internal/toolchain"
	"github.com/hszk-dev/hlsforge/internal/toolchain/toolchaintest"
)

var encoderListing = []string{
	"Encoders:",
	" V..... = Video",
	" A..... = Audio",
	" ------",
	" V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC (codec h264)",
	" V....D h264_qsv             H.264 / AVC (Intel Quick Sync Video acceleration) (codec h264)",
	" V....D libx265              libx265 H.265 / HEVC (codec hevc)",
	" A....D aac                  AAC (Advanced Audio Coding)",
}

// fakeFFmpeg answers -encoders with the listing and accepts functional tests
// only for encoders in working.
func fakeFFmpeg(working ...model.Encoder) *toolchaintest.Runner {
	return &toolchaintest.Runner{
		Handler: func(_ context.Context, args []string, onLine toolchain.LineFunc) error {
			if toolchaintest.HasArg(args, "-encoders") {
				for _, l := range encoderListing {
					onLine(l)
				}
				return nil
			}
			enc := model.Encoder(toolchaintest.ArgAfter(args, "-c:v"))
			for _, w := range working {
				if w == enc {
					return nil
				}
			}
			return &model.SubprocessError{Program: "ffmpeg", ExitCode: 1, Output: []string{"Error while opening encoder"}}
		},
	}
}

func TestParseEncoderList(t *testing.T) {
	set := ParseEncoderList(encoderListing)

	assert.True(t, set[model.EncoderLibx264])
	assert.True(t, set[model.EncoderH264QSV])
	assert.True(t, set[model.EncoderLibx265])
	assert.True(t, set["aac"])
	assert.False(t, set[model.EncoderHEVCVideoToolbox])
	assert.False(t, set["="])
}

func TestProber_Supported(t *testing.T) {
	runner := fakeFFmpeg(model.EncoderLibx264, model.EncoderLibx265)
	p := NewProber(runner, nil)
	ctx := context.Background()

	assert.True(t, p.Supported(ctx, model.EncoderLibx265))
	assert.False(t, p.Supported(ctx, model.EncoderH264QSV), "advertised but not functional")
	assert.False(t, p.Supported(ctx, model.EncoderHEVCVideoToolbox), "not advertised")

	// The listing is fetched once and the unadvertised encoder never reaches the functional test.
	calls := runner.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"-hide_banner", "-encoders"}, calls[0])
	assert.Equal(t, FunctionalTestArgs(model.EncoderLibx265), calls[1])
	assert.Equal(t, FunctionalTestArgs(model.EncoderH264QSV), calls[2])
}

func TestProber_Memoizes(t *testing.T) {
	runner := fakeFFmpeg(model.EncoderLibx264)
	p := NewProber(runner, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Supported(context.Background(), model.EncoderLibx264)
		}()
	}
	wg.Wait()
	assert.True(t, p.Supported(context.Background(), model.EncoderLibx264))

	functional := 0
	for _, call := range runner.Calls() {
		if toolchaintest.HasArg(call, "lavfi") {
			functional++
		}
	}
	assert.LessOrEqual(t, functional, 8)
	assert.GreaterOrEqual(t, functional, 1)
	before := len(runner.Calls())
	p.Supported(context.Background(), model.EncoderLibx264)
	assert.Len(t, runner.Calls(), before, "cached result must not spawn a subprocess")
}

func TestProber_ListingFailureMeansUnsupported(t *testing.T) {
	p := NewProber(&toolchaintest.Runner{Handler: toolchaintest.Fail("boom")}, nil)

	assert.False(t, p.Supported(context.Background(), model.EncoderLibx264))
}

func TestProber_CancelledResultNotCached(t *testing.T) {
	runner := fakeFFmpeg(model.EncoderLibx264)
	p := NewProber(runner, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, p.Supported(ctx, model.EncoderLibx264))
	assert.True(t, p.Supported(context.Background(), model.EncoderLibx264))
}

func TestSelect_WithProber(t *testing.T) {
	p := NewProber(fakeFFmpeg(model.EncoderH264QSV), nil)

	got := SelectFor("amd64", "", model.VideoCodecH265, p.Func(context.Background()))

	assert.Equal(t, model.EncoderH264QSV, got)
}
