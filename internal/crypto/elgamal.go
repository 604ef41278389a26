package crypto

import (
	"crypto/rand"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"

	"golang.org/x/crypto/openpgp/elgamal" //nolint:staticcheck // only ElGamal implementation available
)

// ElGamal key types.
type (
	ElGamalPublicKey  = elgamal.PublicKey
	ElGamalPrivateKey = elgamal.PrivateKey
)

// RFC 3526 group 14 (2048-bit MODP), generator 2.
var (
	elGamalP, _ = new(big.Int).SetString(
		"FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD1"+
			"29024E088A67CC74020BBEA63B139B22514A08798E3404DD"+
			"EF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245"+
			"E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED"+
			"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3D"+
			"C2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F"+
			"83655D23DCA3AD961C62F356208552BB9ED529077096966D"+
			"670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B"+
			"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9"+
			"DE2BCBF6955817183995497CEA956AE515D2261898FA0510"+
			"15728E5A8AACAA68FFFFFFFFFFFFFFFF", 16)
	elGamalG = big.NewInt(2)
)

// elGamalParams is the AlgorithmIdentifier parameter block for ElGamal keys.
type elGamalParams struct {
	P *big.Int
	G *big.Int
}

// elGamalCiphertext is the DER form of an ElGamal ciphertext pair.
type elGamalCiphertext struct {
	C1 *big.Int
	C2 *big.Int
}

// generateElGamal generates an ElGamal key over the fixed MODP group.
func generateElGamal(random io.Reader) (*ElGamalPrivateKey, *ElGamalPublicKey, error) {
	if random == nil {
		random = rand.Reader
	}
	max := new(big.Int).Sub(elGamalP, big.NewInt(3))
	x, err := rand.Int(random, max)
	if err != nil {
		return nil, nil, err
	}
	x.Add(x, big.NewInt(1))

	priv := &ElGamalPrivateKey{
		PublicKey: ElGamalPublicKey{
			G: new(big.Int).Set(elGamalG),
			P: new(big.Int).Set(elGamalP),
			Y: new(big.Int).Exp(elGamalG, x, elGamalP),
		},
		X: x,
	}
	return priv, &priv.PublicKey, nil
}

// elGamalEncrypt encrypts a short message and returns the DER ciphertext.
func elGamalEncrypt(random io.Reader, pub *ElGamalPublicKey, msg []byte) ([]byte, error) {
	c1, c2, err := elgamal.Encrypt(random, pub, msg)
	if err != nil {
		return nil, fmt.Errorf("elgamal encrypt: %w", err)
	}
	return asn1.Marshal(elGamalCiphertext{C1: c1, C2: c2})
}

// elGamalDecrypt reverses elGamalEncrypt.
func elGamalDecrypt(priv *ElGamalPrivateKey, ciphertext []byte) ([]byte, error) {
	var ct elGamalCiphertext
	rest, err := asn1.Unmarshal(ciphertext, &ct)
	if err != nil || len(rest) > 0 {
		return nil, fmt.Errorf("%w: malformed elgamal ciphertext", ErrDecryption)
	}
	msg, err := elgamal.Decrypt(priv, ct.C1, ct.C2)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	return msg, nil
}
