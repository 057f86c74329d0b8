package infra

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xela07ax/poi-engine/internal/keys"
)

// Config — корневая структура конфигурации движка квитанций.
type Config struct {
	PoI     PoIConfig     `mapstructure:"poi"`
	Keys    KeysConfig    `mapstructure:"keys"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logger  LoggerConfig  `mapstructure:"logger"`
}

// PoIConfig — политика выпуска и проверки квитанций.
type PoIConfig struct {
	// Окно жизни квитанции по умолчанию (в часах, дробное)
	ExpirationHours float64 `mapstructure:"expiration_hours"`

	// Минимальный риск, начиная с которого выпуск вообще имеет смысл
	DefaultRiskContext string `mapstructure:"default_risk_context"`

	// Предпочитаемое семейство подписи: rsa | ecdsa | "" (первое доступное)
	DefaultAlgorithm string `mapstructure:"default_algorithm"`

	// Допуск на дрейф часов между издателем и проверяющим
	ClockSkew time.Duration `mapstructure:"clock_skew"`

	// Требовать полную цепочку сертификатов (выключено по умолчанию,
	// включается в проде)
	RequireCertChain bool `mapstructure:"require_cert_chain"`

	// Прикладывать сертификат семейства к выпущенной квитанции
	AttachCertificate bool `mapstructure:"attach_certificate"`
}

// KeysConfig содержит пути к PEM-материалу обоих семейств.
// Ключи и сертификаты создает внешний инструмент (openssl), движок их
// только потребляет.
type KeysConfig struct {
	RSAPrivateKeyPath  string `mapstructure:"rsa_private_key_path"`
	RSAPublicKeyPath   string `mapstructure:"rsa_public_key_path"`
	RSACertificatePath string `mapstructure:"rsa_certificate_path"`
	ECPrivateKeyPath   string `mapstructure:"ec_private_key_path"`
	ECPublicKeyPath    string `mapstructure:"ec_public_key_path"`
	ECCertificatePath  string `mapstructure:"ec_certificate_path"`
}

// StorageConfig описывает подключение леджера к PostgreSQL.
type StorageConfig struct {
	URL           string        `mapstructure:"url"`
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// RedisConfig описывает подключение к Redis (шина отзыва квитанций).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MetricsConfig — экспорт Prometheus-метрик.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // ":9090" или "" (выключено)
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Переменные окружения: POI_EXPIRATION_HOURS перекроет poi.expiration_hours
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Совместимость с историческими POI_* именами путей к ключам
	bindLegacyEnv(v)

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	return &cfg, nil
}

// KeyPaths конвертирует конфиг в формат, который понимает keys.FileProvider.
func (c *Config) KeyPaths() keys.PathsConfig {
	return keys.PathsConfig{
		RSAPrivateKeyPath:  c.Keys.RSAPrivateKeyPath,
		RSAPublicKeyPath:   c.Keys.RSAPublicKeyPath,
		RSACertificatePath: c.Keys.RSACertificatePath,
		ECPrivateKeyPath:   c.Keys.ECPrivateKeyPath,
		ECPublicKeyPath:    c.Keys.ECPublicKeyPath,
		ECCertificatePath:  c.Keys.ECCertificatePath,
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("poi.expiration_hours", 24.0)
	v.SetDefault("poi.default_risk_context", "medium")
	v.SetDefault("poi.default_algorithm", "")
	v.SetDefault("poi.clock_skew", 600*time.Second)
	v.SetDefault("poi.require_cert_chain", false)
	v.SetDefault("poi.attach_certificate", false)
	v.SetDefault("storage.buffer_size", 10000)
	v.SetDefault("storage.flush_interval", 500*time.Millisecond)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// bindLegacyEnv привязывает исторические POI_* переменные окружения
// (их проставляет внешний инструмент подготовки окружения).
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("keys.rsa_private_key_path", "POI_PRIVATE_KEY_PATH")
	_ = v.BindEnv("keys.rsa_public_key_path", "POI_PUBLIC_KEY_PATH")
	_ = v.BindEnv("keys.rsa_certificate_path", "POI_CERTIFICATE_PATH")
	_ = v.BindEnv("keys.ec_private_key_path", "POI_EC_PRIVATE_KEY_PATH")
	_ = v.BindEnv("keys.ec_public_key_path", "POI_EC_PUBLIC_KEY_PATH")
	_ = v.BindEnv("keys.ec_certificate_path", "POI_EC_CERTIFICATE_PATH")
}
