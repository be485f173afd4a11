// Package polymarket implements venue.Client against Polymarket's CLOB and
// Gamma APIs: an EIP-712 wallet signature derives HMAC-signed L2 trading
// credentials, and every price is already native [0,1].
package polymarket

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Credentials holds the L2 API key triplet derived from an L1 signature.
type Credentials struct {
	ApiKey     string
	Secret     string
	Passphrase string
}

// Auth handles Polymarket's two authentication layers: a one-time EIP-712
// "ClobAuth" signature (L1) that derives HMAC-SHA256 trading credentials
// (L2). SafeAddress, when set, is a proxy/multisig wallet distinct from the
// EOA the private key controls.
type Auth struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	safeAddr   common.Address
	chainID    *big.Int
	creds      Credentials
}

// NewAuth derives the EOA address from a hex private key (with or without
// the 0x prefix) and configures the chain ID used for EIP-712 signing.
func NewAuth(privateKeyHex, safeAddress string, chainID int) (*Auth, error) {
	keyHex := privateKeyHex
	if len(keyHex) >= 2 && keyHex[:2] == "0x" {
		keyHex = keyHex[2:]
	}

	privateKey, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	safe := address
	if safeAddress != "" {
		safe = common.HexToAddress(safeAddress)
	}

	return &Auth{
		privateKey: privateKey,
		address:    address,
		safeAddr:   safe,
		chainID:    big.NewInt(int64(chainID)),
	}, nil
}

func (a *Auth) Address() common.Address     { return a.address }
func (a *Auth) SafeAddress() common.Address { return a.safeAddr }

// HasCredentials reports whether L2 HMAC credentials have been derived.
func (a *Auth) HasCredentials() bool {
	return a.creds.ApiKey != "" && a.creds.Secret != "" && a.creds.Passphrase != ""
}

func (a *Auth) SetCredentials(c Credentials) { a.creds = c }

// L1Headers signs the one-time ClobAuth message used to derive L2 credentials.
func (a *Auth) L1Headers(nonce int) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := a.signClobAuth(timestamp, nonce)
	if err != nil {
		return nil, fmt.Errorf("sign clob auth: %w", err)
	}
	return map[string]string{
		"POLY_ADDRESS":   a.address.Hex(),
		"POLY_SIGNATURE": sig,
		"POLY_TIMESTAMP": timestamp,
		"POLY_NONCE":     strconv.Itoa(nonce),
	}, nil
}

// L2Headers signs a trading request with the derived HMAC secret.
func (a *Auth) L2Headers(method, path, body string) (map[string]string, error) {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := a.buildHMAC(timestamp, method, path, body)
	if err != nil {
		return nil, fmt.Errorf("build hmac: %w", err)
	}
	return map[string]string{
		"POLY_ADDRESS":    a.address.Hex(),
		"POLY_SIGNATURE":  sig,
		"POLY_TIMESTAMP":  timestamp,
		"POLY_API_KEY":    a.creds.ApiKey,
		"POLY_PASSPHRASE": a.creds.Passphrase,
	}, nil
}

func (a *Auth) signClobAuth(timestamp string, nonce int) (string, error) {
	sig, err := a.signTypedData(
		&apitypes.TypedDataDomain{
			Name:    "ClobAuthDomain",
			Version: "1",
			ChainId: (*ethmath.HexOrDecimal256)(new(big.Int).Set(a.chainID)),
		},
		apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"ClobAuth": {
				{Name: "address", Type: "address"},
				{Name: "timestamp", Type: "string"},
				{Name: "nonce", Type: "uint256"},
				{Name: "message", Type: "string"},
			},
		},
		apitypes.TypedDataMessage{
			"address":   a.address.Hex(),
			"timestamp": timestamp,
			"nonce":     fmt.Sprintf("%d", nonce),
			"message":   "This message attests that I control the given wallet",
		},
		"ClobAuth",
	)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return "0x" + common.Bytes2Hex(sig), nil
}

func (a *Auth) signTypedData(domain *apitypes.TypedDataDomain, typesDef apitypes.Types, message apitypes.TypedDataMessage, primaryType string) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       typesDef,
		PrimaryType: primaryType,
		Domain:      *domain,
		Message:     message,
	}

	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("typed data hash: %w", err)
	}

	sig, err := crypto.Sign(hash, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// buildHMAC computes message = timestamp+method+path[+body] signed with the
// API secret. The secret arrives base64-encoded but Polymarket does not
// commit to a single padding/alphabet variant, so every common encoding is
// tried in turn.
func (a *Auth) buildHMAC(timestamp, method, path, body string) (string, error) {
	decoders := []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}

	var secretBytes []byte
	var err error
	for _, dec := range decoders {
		secretBytes, err = dec.DecodeString(a.creds.Secret)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}

	message := timestamp + method + path
	if body != "" {
		message += body
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// priceToAmounts converts a [0,1] price and integer contract count to the
// makerAmount/takerAmount big.Int pair the CLOB order payload expects,
// scaled to USDC's 6 decimals. Buying `count` YES/NO contracts at `price`
// costs `count*price` USDC and receives `count` conditional tokens.
func priceToAmounts(price float64, count int) (makerAmt, takerAmt *big.Int) {
	scale := new(big.Float).SetFloat64(1e6)
	cost := roundDown(price*float64(count), 4)

	makerF := new(big.Float).Mul(new(big.Float).SetFloat64(cost), scale)
	makerAmt, _ = makerF.Int(nil)
	takerF := new(big.Float).Mul(new(big.Float).SetFloat64(float64(count)), scale)
	takerAmt, _ = takerF.Int(nil)
	return makerAmt, takerAmt
}

func roundDown(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))
	return float64(int64(val*pow)) / pow
}
