package mapping

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
)

const keySize = 32 // AES-256

// xorPage applies the CTR stream for the given cache page to src, writing
// the result to dst. Encryption and decryption are the same operation.
// Each cache page gets its own stream: the IV encodes the page index, so
// any page can be transformed without touching its neighbors.
func xorPage(key []byte, pageIdx int64, dst, src []byte) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	var iv [aes.BlockSize]byte
	binary.BigEndian.PutUint64(iv[:8], uint64(pageIdx))

	cipher.NewCTR(block, iv[:]).XORKeyStream(dst, src)
	return nil
}
