package env_test

import (
	"context"
	"os"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/luma/resplink/backlog"
	"github.com/luma/resplink/internal/env"
)

var _ = Describe("Config", func() {
	vars := map[string]string{
		"RESPLINK_ADDR":            "10.0.0.1:6380",
		"RESPLINK_PROTOCOL":        "3",
		"RESPLINK_COMMAND_TIMEOUT": "250ms",
		"RESPLINK_BACKLOG_POLICY":  "always",
		"RESPLINK_MAX_FRAME_SIZE":  "4096",
		"RESPLINK_TRACE":           "true",
	}

	AfterEach(func() {
		for k := range vars {
			os.Unsetenv(k)
		}
	})

	It("falls back to defaults", func() {
		conf, err := env.LoadConfig(context.Background())
		Expect(err).To(Succeed())

		Expect(conf.Addr).To(Equal("127.0.0.1:6379"))
		Expect(conf.Protocol).To(Equal(2))
		Expect(conf.LockTimeout).To(Equal(5 * time.Second))
		Expect(conf.BacklogMax).To(Equal(1024))
		Expect(conf.BacklogPolicy).To(Equal("not-sent"))
		Expect(conf.RetryInterval).To(Equal(100 * time.Millisecond))
		Expect(conf.MaxFrameSize).To(Equal(512 * 1024 * 1024))
		Expect(conf.Trace).To(BeFalse())
		Expect(conf.LogLevel).To(Equal("info"))
	})

	It("reads the environment", func() {
		for k, v := range vars {
			Expect(os.Setenv(k, v)).To(Succeed())
		}

		conf, err := env.LoadConfig(context.Background())
		Expect(err).To(Succeed())

		opts, err := conf.ClientOptions(zap.NewNop())
		Expect(err).To(Succeed())
		Expect(opts.Addr).To(Equal("10.0.0.1:6380"))
		Expect(opts.Protocol).To(Equal(3))
		Expect(opts.CommandTimeout).To(Equal(250 * time.Millisecond))
		Expect(opts.BacklogPolicy(backlog.Sent)).To(BeTrue())
		Expect(opts.MaxFrameSize).To(Equal(4096))
		Expect(opts.Trace).To(BeTrue())
	})

	It("rejects unknown policies", func() {
		conf := env.Config{BacklogPolicy: "sometimes"}

		_, err := conf.ClientOptions(zap.NewNop())
		Expect(err).To(MatchError(env.ErrUnknownPolicy))
	})
})

var _ = Describe("MakeLogger", func() {
	It("parses the level", func() {
		log, err := env.MakeLogger("debug")
		Expect(err).To(Succeed())
		Expect(log.Core().Enabled(zap.DebugLevel)).To(BeTrue())

		_, err = env.MakeLogger("loud")
		Expect(err).NotTo(Succeed())
	})
})
