package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForDirectoryOutranksKnownExtensions(t *testing.T) {
	assert.Equal(t, directoryPriority, For("/mnt/usb/Photos", true, 0))
	// A mid-size pdf keeps its base 10; the small-file bonus can lift a
	// small pdf (12) above a directory.
	assert.Greater(t, For("/mnt/usb/Photos", true, 0), For("/mnt/usb/report.pdf", false, smallFileThreshold))
}

func TestForKnownExtensions(t *testing.T) {
	cases := []struct {
		path string
		want int
	}{
		{"report.pdf", 10 + smallFileBonus},
		{"slides.pptx", 8 + smallFileBonus},
		{"notes.txt", 7 + smallFileBonus},
		{"photo.JPG", 6 + smallFileBonus},
	}
	for _, c := range cases {
		t.Run(c.path, func(t *testing.T) {
			assert.Equal(t, c.want, For(c.path, false, 100))
		})
	}
}

func TestForUnknownExtensionUsesDefault(t *testing.T) {
	assert.Equal(t, Default+smallFileBonus, For("archive.zzz", false, 100))
}

func TestForSmallFileGetsBonus(t *testing.T) {
	got := For("notes.txt", false, smallFileThreshold-1)
	assert.Equal(t, 7+smallFileBonus, got)
}

func TestForLargeFileGetsPenalty(t *testing.T) {
	got := For("movie.mp4", false, largeFileThreshold)
	assert.Equal(t, 5-largeFilePenalty, got)
}

func TestForMidSizeFileGetsNoAdjustment(t *testing.T) {
	got := For("notes.txt", false, smallFileThreshold+1)
	assert.Equal(t, 7, got)
}

func TestForClampsToValidRange(t *testing.T) {
	assert.GreaterOrEqual(t, For("tiny.unknown", false, 0), 0)
	assert.LessOrEqual(t, For("tiny.unknown", false, 0), 100)
}

func TestForIsCaseInsensitiveOnExtension(t *testing.T) {
	assert.Equal(t, For("photo.jpg", false, 100), For("PHOTO.JPG", false, 100))
}
