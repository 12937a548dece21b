package imagecodec

import (
	"bytes"
	"encoding/binary"
)

const (
	markerSOI  = 0xD8
	markerAPP1 = 0xE1
	markerSOS  = 0xDA
)

const tagOrientation = 0x0112

var exifHeader = []byte("Exif\x00\x00")

// exifSegment returns the full APP1/Exif segment (marker included) of a JPEG,
// or nil.
func exifSegment(jpg []byte) []byte {
	if len(jpg) < 4 || jpg[0] != 0xFF || jpg[1] != markerSOI {
		return nil
	}
	i := 2
	for i+4 <= len(jpg) {
		if jpg[i] != 0xFF {
			return nil
		}
		marker := jpg[i+1]
		if marker == markerSOS {
			return nil
		}
		size := int(jpg[i+2])<<8 | int(jpg[i+3])
		end := i + 2 + size
		if size < 2 || end > len(jpg) {
			return nil
		}
		if marker == markerAPP1 && bytes.HasPrefix(jpg[i+4:end], exifHeader) {
			return jpg[i:end]
		}
		i = end
	}
	return nil
}

func insertAfterSOI(jpg, seg []byte) []byte {
	if len(jpg) < 2 {
		return jpg
	}
	out := make([]byte, 0, len(jpg)+len(seg))
	out = append(out, jpg[:2]...)
	out = append(out, seg...)
	return append(out, jpg[2:]...)
}

// uprightExif returns a copy of seg with the IFD0 Orientation tag set to 1,
// matching pixels that were auto-oriented on input. Segments it cannot parse
// come back unchanged.
func uprightExif(seg []byte) []byte {
	out := append([]byte(nil), seg...)
	tiff := 4 + len(exifHeader)
	if len(out) < tiff+8 {
		return out
	}
	t := out[tiff:]
	var order binary.ByteOrder
	switch string(t[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return out
	}
	ifd := int(order.Uint32(t[4:8]))
	if ifd < 8 || ifd+2 > len(t) {
		return out
	}
	n := int(order.Uint16(t[ifd:]))
	for i := 0; i < n; i++ {
		e := ifd + 2 + i*12
		if e+12 > len(t) {
			break
		}
		if order.Uint16(t[e:]) == tagOrientation {
			order.PutUint16(t[e+8:], 1)
			break
		}
	}
	return out
}
