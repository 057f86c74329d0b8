package keys

/*
Файл provider.go реализует поставщика ключевого материала для подписи и
проверки квитанций. Сами ключи и сертификаты создаются внешним инструментом
(openssl), движок потребляет их как непрозрачные PEM-файлы.

Семантика One-time Load: весь материал читается с диска один раз при
конструировании провайдера и дальше отдается из памяти. Горячий путь
(подпись/проверка) никогда не ходит в файловую систему.
*/

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Algorithm — семейство подписи, выводится из типа ключа.
type Algorithm string

const (
	AlgorithmRSA   Algorithm = "rsa"
	AlgorithmECDSA Algorithm = "ecdsa"
)

var (
	// ErrKeyUnavailable — запрошенный ключ не сконфигурирован или не загрузился.
	ErrKeyUnavailable = errors.New("key material unavailable")

	// ErrUnsupportedAlgorithm — алгоритм вне поддерживаемых семейств.
	ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")
)

// Provider отдает ключевой материал, загруженный при старте.
// Реализации обязаны быть потокобезопасными: материал read-only после загрузки.
type Provider interface {
	// Signer возвращает приватный ключ для выпуска квитанций.
	// preferred == "" означает «любое сконфигурированное семейство».
	Signer(preferred Algorithm) (crypto.Signer, Algorithm, error)

	// Verifier возвращает публичный ключ для проверки подписи данного семейства.
	Verifier(alg Algorithm) (crypto.PublicKey, error)

	// Certificate возвращает сертификат семейства (nil, если не сконфигурирован).
	Certificate(alg Algorithm) (*x509.Certificate, error)
}

// AlgorithmOf выводит семейство подписи из типа ключа.
func AlgorithmOf(key crypto.Signer) (Algorithm, error) {
	switch key.(type) {
	case *rsa.PrivateKey:
		return AlgorithmRSA, nil
	case *ecdsa.PrivateKey:
		return AlgorithmECDSA, nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, key)
	}
}

// PathsConfig — пути к PEM-файлам по семействам (см. infra.Config).
type PathsConfig struct {
	RSAPrivateKeyPath  string
	RSAPublicKeyPath   string
	RSACertificatePath string
	ECPrivateKeyPath   string
	ECPublicKeyPath    string
	ECCertificatePath  string
}

// FileProvider — провайдер, читающий материал из PEM-файлов один раз.
type FileProvider struct {
	rsaPrivate *rsa.PrivateKey
	rsaPublic  *rsa.PublicKey
	rsaCert    *x509.Certificate

	ecPrivate *ecdsa.PrivateKey
	ecPublic  *ecdsa.PublicKey
	ecCert    *x509.Certificate

	logger *zap.Logger
}

// NewFileProvider загружает все сконфигурированные пути. Отсутствующий путь —
// это отсутствующее семейство, а не ошибка: валидатору приватный ключ не нужен,
// генератору не нужен публичный. Ошибкой считается только нечитаемый PEM.
func NewFileProvider(paths PathsConfig, logger *zap.Logger) (*FileProvider, error) {
	p := &FileProvider{logger: logger.Named("keys")}

	if data := loadKeyResource(paths.RSAPrivateKeyPath, "POI_PRIVATE_KEY_DATA"); data != nil {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("keys: failed to parse rsa private key: %w", err)
		}
		p.rsaPrivate = key
	}
	if data := loadKeyResource(paths.RSAPublicKeyPath, "POI_PUBLIC_KEY_DATA"); data != nil {
		key, err := jwt.ParseRSAPublicKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("keys: failed to parse rsa public key: %w", err)
		}
		p.rsaPublic = key
	}
	if data := loadKeyResource(paths.ECPrivateKeyPath, "POI_EC_PRIVATE_KEY_DATA"); data != nil {
		key, err := jwt.ParseECPrivateKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("keys: failed to parse ec private key: %w", err)
		}
		p.ecPrivate = key
	}
	if data := loadKeyResource(paths.ECPublicKeyPath, "POI_EC_PUBLIC_KEY_DATA"); data != nil {
		key, err := jwt.ParseECPublicKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("keys: failed to parse ec public key: %w", err)
		}
		p.ecPublic = key
	}

	var err error
	if p.rsaCert, err = loadCertificate(paths.RSACertificatePath); err != nil {
		return nil, err
	}
	if p.ecCert, err = loadCertificate(paths.ECCertificatePath); err != nil {
		return nil, err
	}

	// Публичный ключ можно взять из сертификата, если отдельного файла нет.
	if p.rsaPublic == nil && p.rsaCert != nil {
		if pub, ok := p.rsaCert.PublicKey.(*rsa.PublicKey); ok {
			p.rsaPublic = pub
		}
	}
	if p.ecPublic == nil && p.ecCert != nil {
		if pub, ok := p.ecCert.PublicKey.(*ecdsa.PublicKey); ok {
			p.ecPublic = pub
		}
	}

	p.logger.Info("key material loaded",
		zap.Bool("rsa_private", p.rsaPrivate != nil),
		zap.Bool("rsa_public", p.rsaPublic != nil),
		zap.Bool("ec_private", p.ecPrivate != nil),
		zap.Bool("ec_public", p.ecPublic != nil),
	)
	return p, nil
}

func (p *FileProvider) Signer(preferred Algorithm) (crypto.Signer, Algorithm, error) {
	var key crypto.Signer
	switch preferred {
	case AlgorithmRSA:
		if p.rsaPrivate != nil {
			key = p.rsaPrivate
		}
	case AlgorithmECDSA:
		if p.ecPrivate != nil {
			key = p.ecPrivate
		}
	case "":
		// Берем первое доступное семейство.
		switch {
		case p.rsaPrivate != nil:
			key = p.rsaPrivate
		case p.ecPrivate != nil:
			key = p.ecPrivate
		}
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, preferred)
	}
	if key == nil {
		return nil, "", fmt.Errorf("%w: no private key for %q", ErrKeyUnavailable, preferred)
	}

	// Алгоритм всегда выводится из типа ключа, а не из запрошенного значения.
	alg, err := AlgorithmOf(key)
	if err != nil {
		return nil, "", err
	}
	return key, alg, nil
}

func (p *FileProvider) Verifier(alg Algorithm) (crypto.PublicKey, error) {
	switch alg {
	case AlgorithmRSA:
		if p.rsaPublic != nil {
			return p.rsaPublic, nil
		}
	case AlgorithmECDSA:
		if p.ecPublic != nil {
			return p.ecPublic, nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return nil, fmt.Errorf("%w: no public key for %q", ErrKeyUnavailable, alg)
}

func (p *FileProvider) Certificate(alg Algorithm) (*x509.Certificate, error) {
	switch alg {
	case AlgorithmRSA:
		return p.rsaCert, nil
	case AlgorithmECDSA:
		return p.ecCert, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// Static — провайдер с материалом, заданным напрямую (тесты, встраивание).
type Static struct {
	RSAPrivate *rsa.PrivateKey
	RSAPublic  *rsa.PublicKey
	ECPrivate  *ecdsa.PrivateKey
	ECPublic   *ecdsa.PublicKey
	RSACert    *x509.Certificate
	ECCert     *x509.Certificate
}

func (s *Static) Signer(preferred Algorithm) (crypto.Signer, Algorithm, error) {
	var key crypto.Signer
	switch preferred {
	case AlgorithmRSA:
		if s.RSAPrivate != nil {
			key = s.RSAPrivate
		}
	case AlgorithmECDSA:
		if s.ECPrivate != nil {
			key = s.ECPrivate
		}
	case "":
		switch {
		case s.RSAPrivate != nil:
			key = s.RSAPrivate
		case s.ECPrivate != nil:
			key = s.ECPrivate
		}
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, preferred)
	}
	if key == nil {
		return nil, "", fmt.Errorf("%w: no private key for %q", ErrKeyUnavailable, preferred)
	}

	alg, err := AlgorithmOf(key)
	if err != nil {
		return nil, "", err
	}
	return key, alg, nil
}

func (s *Static) Verifier(alg Algorithm) (crypto.PublicKey, error) {
	switch alg {
	case AlgorithmRSA:
		if s.RSAPublic != nil {
			return s.RSAPublic, nil
		}
	case AlgorithmECDSA:
		if s.ECPublic != nil {
			return s.ECPublic, nil
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	return nil, fmt.Errorf("%w: no public key for %q", ErrKeyUnavailable, alg)
}

func (s *Static) Certificate(alg Algorithm) (*x509.Certificate, error) {
	switch alg {
	case AlgorithmRSA:
		return s.RSACert, nil
	case AlgorithmECDSA:
		return s.ECCert, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
}

// EncodeCertificatePEM возвращает сертификат обратно в PEM-виде
// (для прикладывания certificate_chain к квитанции).
func EncodeCertificatePEM(cert *x509.Certificate) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}))
}

// loadKeyResource — универсальный хелпер: PEM может прилететь напрямую
// в ENV (Docker/K8s) или лежать файлом по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		// Сертификат опционален: нет файла — нет сертификата.
		return nil, nil
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("keys: no PEM block in certificate %s", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: failed to parse certificate %s: %w", path, err)
	}
	return cert, nil
}
