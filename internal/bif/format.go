// Package bif builds Base Index Frames files: the trick-play thumbnail index
// format consumed by set-top clients.
package bif

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// magic identifies a BIF file.
var magic = [8]byte{0x89, 0x42, 0x49, 0x46, 0x0D, 0x0A, 0x1A, 0x0A}

const (
	headerSize     = 64
	indexEntrySize = 8
)

// Encode writes a version-0 BIF stream: a 64-byte header, an index table of
// (timestamp, offset) pairs closed by a 0xFFFFFFFF sentinel, then the JPEG
// bodies back to back. Timestamps are frame ordinals; the client multiplies
// by the frame interval.
func Encode(w io.Writer, frameIntervalMS uint32, images [][]byte) error {
	count := uint32(len(images))

	header := make([]byte, headerSize)
	copy(header, magic[:])
	binary.LittleEndian.PutUint32(header[8:], 0) // version
	binary.LittleEndian.PutUint32(header[12:], count)
	binary.LittleEndian.PutUint32(header[16:], frameIntervalMS)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("bif header: %w", err)
	}

	index := make([]byte, (int(count)+1)*indexEntrySize)
	offset := uint32(headerSize + len(index))
	for i, img := range images {
		binary.LittleEndian.PutUint32(index[i*indexEntrySize:], uint32(i))
		binary.LittleEndian.PutUint32(index[i*indexEntrySize+4:], offset)
		offset += uint32(len(img))
	}
	binary.LittleEndian.PutUint32(index[int(count)*indexEntrySize:], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(index[int(count)*indexEntrySize+4:], offset)
	if _, err := w.Write(index); err != nil {
		return fmt.Errorf("bif index: %w", err)
	}

	for i, img := range images {
		if _, err := w.Write(img); err != nil {
			return fmt.Errorf("bif image %d: %w", i, err)
		}
	}
	return nil
}

// EncodeFile assembles the images at imagePaths, in order, into a BIF file at
// destPath.
func EncodeFile(destPath string, frameIntervalMS uint32, imagePaths []string) error {
	images := make([][]byte, len(imagePaths))
	for i, p := range imagePaths {
		img, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		images[i] = img
	}
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create bif: %w", err)
	}
	if err := Encode(f, frameIntervalMS, images); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
