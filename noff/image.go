package noff

import (
	"encoding/binary"
	"io"
)

// An Image is the content of an executable before it is laid out in a file.
// Code is placed at CodeAddr, initialized data at InitDataAddr, and
// UninitDataSize bytes of zeroed data at UninitDataAddr.
type Image struct {
	Code           []byte
	CodeAddr       int32
	InitData       []byte
	InitDataAddr   int32
	UninitDataAddr int32
	UninitDataSize int32
}

// Header returns the header that Encode writes for the image.
func (img Image) Header() Header {
	codeOffset := int32(HeaderSize)
	dataOffset := codeOffset + int32(len(img.Code))

	return Header{
		Magic: Magic,
		Code: Segment{
			VirtualAddr: img.CodeAddr,
			InFileAddr:  codeOffset,
			Size:        int32(len(img.Code)),
		},
		InitData: Segment{
			VirtualAddr: img.InitDataAddr,
			InFileAddr:  dataOffset,
			Size:        int32(len(img.InitData)),
		},
		UninitData: Segment{
			VirtualAddr: img.UninitDataAddr,
			Size:        img.UninitDataSize,
		},
	}
}

// Encode lays the image out as a NOFF file in the given byte order: header
// first, then the code, then the initialized data.
func (img Image) Encode(order binary.ByteOrder) []byte {
	h := img.Header()

	buf := make([]byte, HeaderSize, HeaderSize+len(img.Code)+len(img.InitData))
	words := []uint32{
		h.Magic,
		uint32(h.Code.VirtualAddr), uint32(h.Code.InFileAddr), uint32(h.Code.Size),
		uint32(h.InitData.VirtualAddr), uint32(h.InitData.InFileAddr), uint32(h.InitData.Size),
		uint32(h.UninitData.VirtualAddr), uint32(h.UninitData.InFileAddr), uint32(h.UninitData.Size),
	}

	for i, w := range words {
		order.PutUint32(buf[4*i:], w)
	}

	buf = append(buf, img.Code...)
	buf = append(buf, img.InitData...)

	return buf
}

// Write encodes the image into w.
func (img Image) Write(w io.Writer, order binary.ByteOrder) error {
	_, err := w.Write(img.Encode(order))
	return err
}
