package cmd_test

import (
	"bytes"
	"context"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/resplink/cmd"
	"github.com/luma/resplink/internal/resptest"
	"github.com/luma/resplink/protocol"
)

var _ = Describe("resplink", func() {
	var server *resptest.Server

	BeforeEach(func() {
		var err error
		server, err = resptest.NewServer(nil)
		Expect(err).To(Succeed())

		server.Handle("HGETALL", func(args [][]byte) protocol.Value {
			return protocol.Value{Kind: protocol.Array, Elems: []protocol.Value{
				resptest.Bulk("name"), resptest.Bulk("alice"),
			}}
		})
	})

	AfterEach(func() {
		Expect(server.Close()).To(Succeed())
	})

	run := func(args ...string) string {
		var out bytes.Buffer

		cmd.RootCmd.SetOut(&out)
		cmd.RootCmd.SetArgs(append([]string{"--addr", server.Addr()}, args...))
		Expect(cmd.RootCmd.ExecuteContext(context.Background())).To(Succeed())

		return out.String()
	}

	It("pings the server", func() {
		Expect(run("ping")).To(HavePrefix("PONG in "))
	})

	It("prints replies", func() {
		Expect(run("do", "ECHO", "hello")).To(Equal("hello\n"))
		Expect(run("do", "--json", "HGETALL", "user:1")).To(MatchJSON(`["name","alice"]`))
		Expect(server.Received()).To(ContainElement("HGETALL user:1"))
	})

	It("prints its version", func() {
		Expect(run("version")).To(HavePrefix("resplink dev"))
	})

	It("generates shell completions", func() {
		Expect(run("gen", "completion", "bash")).To(ContainSubstring("bash completion for resplink"))
	})
})
