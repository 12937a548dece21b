package adapter

// OutputPolicy controls how generated images are written to disk.
type OutputPolicy struct {
	Format        string // keep | jpeg | png
	Quality       int
	StripMetadata bool
}

// ImageCodec is the image library boundary: resizing and format conversion.
type ImageCodec interface {
	// PrepareInput downsizes src so its longest edge is at most maxEdge and
	// returns re-encoded bytes plus their MIME type.
	PrepareInput(src []byte, maxEdge int) ([]byte, string, error)
	// Finalize decodes a generated image and encodes it per policy. original is
	// the source photo, used when metadata has to be carried over.
	// It returns the encoded bytes and the file extension (with dot).
	Finalize(generated, original []byte, policy OutputPolicy) ([]byte, string, error)
}
