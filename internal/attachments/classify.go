package attachments

import (
	"path"
	"strings"
)

// Category is the preview treatment an attachment receives.
type Category int

const (
	Unsupported Category = iota
	JSON
	Text
	Video
	Audio
	Image
	FITS
	PDF
)

func (c Category) String() string {
	switch c {
	case JSON:
		return "json"
	case Text:
		return "text"
	case Video:
		return "video"
	case Audio:
		return "audio"
	case Image:
		return "image"
	case FITS:
		return "fits"
	case PDF:
		return "pdf"
	default:
		return "unsupported"
	}
}

// ImageOrFits reports whether the category renders through the image viewer.
func (c Category) ImageOrFits() bool {
	return c == Image || c == FITS
}

// Textual reports whether the category is previewed from a fetched body.
func (c Category) Textual() bool {
	return c == JSON || c == Text
}

var (
	videoExtensions = []string{"mp4", "ogg", "ogv", "webm"}
	audioExtensions = []string{"aac", "mp3", "oga", "wav"}
	imageExtensions = []string{"apng", "avif", "bmp", "gif", "ico", "jpeg", "jpg", "png", "svg", "webp"}
	textExtensions  = []string{"txt", "log", "logs", "csv", "tsv", "htm", "html", "js", "mjs", "json", "xml"}
	fitsExtensions  = []string{"fit", "fits", "fz"}
)

var categoryByExtension = buildCategoryTable()

func buildCategoryTable() map[string]Category {
	table := make(map[string]Category)
	register := func(category Category, extensions []string) {
		for _, extension := range extensions {
			table[extension] = category
		}
	}
	register(Video, videoExtensions)
	register(Audio, audioExtensions)
	register(Image, imageExtensions)
	register(Text, textExtensions)
	register(FITS, fitsExtensions)
	table["json"] = JSON
	table["pdf"] = PDF
	return table
}

// Extension returns the lower-cased extension of filename without the dot,
// or "" when there is none.
func Extension(filename string) string {
	extension := path.Ext(strings.TrimSpace(filename))
	if len(extension) <= 1 {
		return ""
	}
	return strings.ToLower(extension[1:])
}

// Classify maps filename to its preview category. Unknown or missing
// extensions classify as Unsupported.
func Classify(filename string) Category {
	extension := Extension(filename)
	if extension == "" {
		return Unsupported
	}
	if category, ok := categoryByExtension[extension]; ok {
		return category
	}
	return Unsupported
}
