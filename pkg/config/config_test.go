package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/twin/pkg/config"
)

var _ = Describe("Configer config", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	writeConfig := func(data string) {
		err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
		Expect(err).NotTo(HaveOccurred())
	}

	newConfiger := func() *config.Configer {
		c, err := config.NewConfiger(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	Describe("LoadConfig", func() {
		It("returns default config when no config file exists", func() {
			cfg, err := newConfiger().LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.NewDefaultConfig()))
		})

		It("loads a partial config file over the defaults", func() {
			writeConfig(`version = 0

[store]
provider = "postgres"
vector_dimension = 768

[pools.sql]
host = "db.internal"

[events]
provider = "kafka"
brokers = ["k1:9092", "k2:9092"]
`)

			cfg, err := newConfiger().LoadConfig()
			Expect(err).NotTo(HaveOccurred())

			defaults := config.NewDefaultConfig()
			Expect(cfg.Store.Provider).To(Equal("postgres"))
			Expect(cfg.Store.VectorDimension).To(Equal(768))
			Expect(cfg.Pools.SQL.Host).To(Equal("db.internal"))
			Expect(cfg.Pools.SQL.Port).To(Equal(defaults.Pools.SQL.Port))
			Expect(cfg.Events.Brokers).To(Equal([]string{"k1:9092", "k2:9092"}))
			Expect(cfg.Events.Topic).To(Equal(defaults.Events.Topic))
			Expect(cfg.API.Listen).To(Equal(defaults.API.Listen))
		})

		It("keeps explicit zero values instead of the defaults", func() {
			writeConfig(`[cache]
enable_fallback = false
default_ttl_seconds = 0
`)

			cfg, err := newConfiger().LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Cache.EnableFallback).To(BeFalse())
			Expect(cfg.Cache.DefaultTTLSeconds).To(BeZero())
		})

		It("returns error for malformed TOML", func() {
			writeConfig("this is not [valid toml")

			_, err := newConfiger().LoadConfig()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("parsing config TOML"))
		})

		It("returns error for unsupported config version", func() {
			writeConfig("version = 7\n")

			_, err := newConfiger().LoadConfig()
			Expect(err).To(MatchError(ContainSubstring("unsupported config version 7")))
		})
	})

	Describe("SaveConfig", func() {
		It("persists config to disk with owner-only permissions", func() {
			c := newConfiger()
			cfg := config.NewDefaultConfig()
			cfg.API.Listen = ":9999"

			Expect(c.SaveConfig(cfg)).To(Succeed())

			info, err := os.Stat(c.GetTarget())
			Expect(err).NotTo(HaveOccurred())
			Expect(info.Mode().Perm()).To(Equal(os.FileMode(0o600)))

			loaded, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(cfg))
		})

		It("returns error for nil config", func() {
			Expect(newConfiger().SaveConfig(nil)).To(MatchError("cannot save nil config"))
		})
	})

	Describe("SetConfigValue", func() {
		It("sets a string config key", func() {
			c := newConfiger()
			Expect(c.SetConfigValue("store.provider", "postgres")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Store.Provider).To(Equal("postgres"))
		})

		It("sets an int config key", func() {
			c := newConfiger()
			Expect(c.SetConfigValue("pools.sql.max_connections", " 42 ")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Pools.SQL.MaxConnections).To(Equal(42))
		})

		It("sets a bool config key", func() {
			c := newConfiger()
			Expect(c.SetConfigValue("cache.sweep_search_on_write", "true")).To(Succeed())

			value, err := c.GetConfigValue("cache.sweep_search_on_write")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("true"))
		})

		It("splits list keys on commas", func() {
			c := newConfiger()
			Expect(c.SetConfigValue("events.brokers", "k1:9092, ,k2:9092")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Events.Brokers).To(Equal([]string{"k1:9092", "k2:9092"}))

			value, err := c.GetConfigValue("events.brokers")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("k1:9092,k2:9092"))
		})

		It("returns error for unknown key", func() {
			err := newConfiger().SetConfigValue("proxy.upstream", "x")
			Expect(err).To(MatchError(ContainSubstring(`unknown config key: "proxy.upstream"`)))
		})

		It("returns error for invalid int value", func() {
			err := newConfiger().SetConfigValue("store.vector_dimension", "wide")
			Expect(err).To(MatchError(ContainSubstring("invalid value for store.vector_dimension")))
		})

		It("preserves existing values when setting a new key", func() {
			c := newConfiger()
			Expect(c.SetConfigValue("pools.sql.host", "db.internal")).To(Succeed())
			Expect(c.SetConfigValue("api.listen", ":7000")).To(Succeed())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Pools.SQL.Host).To(Equal("db.internal"))
			Expect(cfg.API.Listen).To(Equal(":7000"))
		})
	})

	Describe("GetConfigValue", func() {
		It("returns default values when no config file exists", func() {
			c := newConfiger()

			value, err := c.GetConfigValue("cache.invalidation")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("immediate"))

			value, err = c.GetConfigValue("cache.enable_fallback")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(Equal("true"))
		})

		It("returns empty string for key with no default", func() {
			value, err := newConfiger().GetConfigValue("cache.remote_url")
			Expect(err).NotTo(HaveOccurred())
			Expect(value).To(BeEmpty())
		})

		It("returns error for unknown key", func() {
			_, err := newConfiger().GetConfigValue("nope")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Dir", func() {
		It("is the directory holding config.toml", func() {
			c := newConfiger()
			Expect(c.GetTarget()).To(HaveSuffix("config.toml"))
			Expect(c.Dir()).To(Equal(filepath.Dir(c.GetTarget())))
		})
	})
})

var _ = Describe("ValidConfigKeys", func() {
	It("lists every key in section order", func() {
		keys := config.ValidConfigKeys()
		Expect(keys[0]).To(Equal("pools.sql.host"))
		Expect(keys[len(keys)-1]).To(Equal("logging.format"))
		Expect(keys).To(ContainElements("cache.invalidation", "store.provider", "events.brokers"))
	})

	It("returns a copy", func() {
		keys := config.ValidConfigKeys()
		keys[0] = "mutated"
		Expect(config.ValidConfigKeys()[0]).To(Equal("pools.sql.host"))
	})

	It("agrees with IsValidConfigKey", func() {
		for _, key := range config.ValidConfigKeys() {
			Expect(config.IsValidConfigKey(key)).To(BeTrue(), key)
		}
		Expect(config.IsValidConfigKey("pools")).To(BeFalse())
		Expect(config.IsValidConfigKey("")).To(BeFalse())
	})
})

var _ = Describe("ParseConfigTOML", func() {
	It("returns the defaults for empty input", func() {
		cfg, err := config.ParseConfigTOML(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.NewDefaultConfig()))
	})

	It("parses every section", func() {
		cfg, err := config.ParseConfigTOML([]byte(`
[pools.kv]
url = "kv://cache:6379/0"

[cache]
invalidation = "adaptive"
adaptive_threshold = 3

[timing]
warn_threshold_ms = 250

[logging]
level = "debug"
format = "json"
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Pools.KV.URL).To(Equal("kv://cache:6379/0"))
		Expect(cfg.Cache.Invalidation).To(Equal("adaptive"))
		Expect(cfg.Cache.AdaptiveThreshold).To(Equal(3))
		Expect(cfg.Timing.WarnThresholdMs).To(Equal(250))
		Expect(cfg.Logging.Format).To(Equal(config.FormatJSON))
	})
})
