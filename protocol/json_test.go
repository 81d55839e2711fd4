package protocol_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/tidwall/gjson"

	"github.com/luma/resplink/protocol"
)

var _ = Describe("MarshalJSON", func() {
	It("renders scalars", func() {
		for wire, expected := range map[string]string{
			"+OK\r\n":         `"OK"`,
			":7\r\n":          `7`,
			"$-1\r\n":         `null`,
			"#t\r\n":          `true`,
			",2.5\r\n":        `2.5`,
			"-ERR nope\r\n":   `{"error":"ERR nope"}`,
			"$5\r\nhello\r\n": `"hello"`,
		} {
			out, err := protocol.MarshalJSON(decodeOne(wire))
			Expect(err).To(Succeed())
			Expect(string(out)).To(MatchJSON(expected), wire)
		}
	})

	It("renders aggregates", func() {
		v := decodeOne("%2\r\n+name\r\n$5\r\nalice\r\n+tags\r\n*2\r\n+a\r\n:1\r\n")

		out, err := protocol.MarshalJSON(v)
		Expect(err).To(Succeed())
		Expect(string(out)).To(MatchJSON(`{"name":"alice","tags":["a",1]}`))

		Expect(gjson.GetBytes(out, "tags.1").Int()).To(Equal(int64(1)))
	})

	It("escapes map keys that look like paths", func() {
		v := decodeOne("%1\r\n+a.b\r\n:1\r\n")

		out, err := protocol.MarshalJSON(v)
		Expect(err).To(Succeed())
		Expect(gjson.GetBytes(out, `a\.b`).Int()).To(Equal(int64(1)))
	})
})
