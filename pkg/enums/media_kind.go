package enums

// MediaKind is derived from the sniffed content type of an upload.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

var mediaKinds = values[MediaKind]{MediaKindImage, MediaKindVideo}

func (m MediaKind) IsValid() bool { return mediaKinds.has(m) }

func ParseMediaKind(raw string) (MediaKind, error) {
	return mediaKinds.parse("media kind", raw)
}
