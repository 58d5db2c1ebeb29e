package batch_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gradebook/records-api/internal/batch"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"
)

func studentCSV(rows int) string {
	var sb strings.Builder
	sb.WriteString("ROLL NO,NAME,CLASS,SECTION\n")
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&sb, "%d,Student %d,10,A\n", i, i)
	}
	return sb.String()
}

type fixedSigner struct {
	url string
	err error
}

func (f fixedSigner) SignedURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return f.url, f.err
}

var _ = Describe("chunk streamer", func() {
	var (
		opener *memoryOpener
		chunks [][]batch.StudentRow
		collect func(ctx context.Context, rows []batch.StudentRow) error
	)

	BeforeEach(func() {
		opener = newMemoryOpener()
		chunks = nil
		collect = func(_ context.Context, rows []batch.StudentRow) error {
			chunks = append(chunks, rows)
			return nil
		}
	})

	It("splits 301 rows into 150, 150 and 1", func() {
		ref := opener.add("s3://uploads/students.csv", studentCSV(301))

		result, err := batch.StreamChunks[batch.StudentRow](context.TODO(), opener, ref, batch.StudentCodec{}, batch.StreamOptions{ChunkSize: 150}, collect)
		Expect(err).To(BeNil())
		Expect(result.Rows).To(Equal(301))
		Expect(result.Chunks).To(Equal(3))
		Expect(chunks).To(HaveLen(3))
		Expect(chunks[0]).To(HaveLen(150))
		Expect(chunks[1]).To(HaveLen(150))
		Expect(chunks[2]).To(HaveLen(1))
		Expect(chunks[2][0].RollNo).To(Equal("301"))
		Expect(opener.opens).To(Equal(1))
	})

	It("emits no chunk for a header-only file", func() {
		ref := opener.add("s3://uploads/students.csv", "ROLL NO,NAME,CLASS,SECTION\n")

		result, err := batch.StreamChunks[batch.StudentRow](context.TODO(), opener, ref, batch.StudentCodec{}, batch.StreamOptions{}, collect)
		Expect(err).To(BeNil())
		Expect(result.Rows).To(Equal(0))
		Expect(chunks).To(BeEmpty())
	})

	It("skips blank lines", func() {
		ref := opener.add("s3://uploads/students.csv", "ROLL NO,NAME,CLASS,SECTION\n1,A,10,A\n,,,\n\n2,B,10,A\n")

		result, err := batch.StreamChunks[batch.StudentRow](context.TODO(), opener, ref, batch.StudentCodec{}, batch.StreamOptions{}, collect)
		Expect(err).To(BeNil())
		Expect(result.Rows).To(Equal(2))
	})

	It("fails on an empty file", func() {
		ref := opener.add("s3://uploads/students.csv", "")

		_, err := batch.StreamChunks[batch.StudentRow](context.TODO(), opener, ref, batch.StudentCodec{}, batch.StreamOptions{}, collect)
		var headerErr *batch.HeaderError
		Expect(errors.As(err, &headerErr)).To(BeTrue())
	})

	It("fails before emitting anything when a required column is missing", func() {
		ref := opener.add("s3://uploads/students.csv", "ROLL NO,NAME,SECTION\n1,A,A\n")

		_, err := batch.StreamChunks[batch.StudentRow](context.TODO(), opener, ref, batch.StudentCodec{}, batch.StreamOptions{}, collect)
		Expect(err).ToNot(BeNil())
		Expect(err.Error()).To(Equal("missing required column: CLASS"))
		Expect(chunks).To(BeEmpty())
	})

	It("stops on the first invalid row but keeps chunks already emitted", func() {
		content := studentCSV(3) + "4,,10,A\n"
		ref := opener.add("s3://uploads/students.csv", content)

		_, err := batch.StreamChunks[batch.StudentRow](context.TODO(), opener, ref, batch.StudentCodec{}, batch.StreamOptions{ChunkSize: 2}, collect)
		var validationErr *batch.ValidationError
		Expect(errors.As(err, &validationErr)).To(BeTrue())
		Expect(validationErr.Row).To(Equal(4))
		Expect(chunks).To(HaveLen(1))
	})

	It("drops invalid rows when asked to skip them", func() {
		content := studentCSV(3) + "4,,10,A\n5,E,10,A\n"
		ref := opener.add("s3://uploads/students.csv", content)

		result, err := batch.StreamChunks[batch.StudentRow](context.TODO(), opener, ref, batch.StudentCodec{}, batch.StreamOptions{Policy: batch.SkipInvalid}, collect)
		Expect(err).To(BeNil())
		Expect(result.Rows).To(Equal(4))
		Expect(result.Skipped).To(Equal(1))
	})

	It("stops when the chunk callback fails", func() {
		ref := opener.add("s3://uploads/students.csv", studentCSV(5))
		calls := 0
		failing := func(_ context.Context, _ []batch.StudentRow) error {
			calls++
			return errors.New("queue unavailable")
		}

		_, err := batch.StreamChunks[batch.StudentRow](context.TODO(), opener, ref, batch.StudentCodec{}, batch.StreamOptions{ChunkSize: 2}, failing)
		Expect(err).To(MatchError("queue unavailable"))
		Expect(calls).To(Equal(1))
	})

	It("returns the opener error", func() {
		_, err := batch.StreamChunks[batch.StudentRow](context.TODO(), opener, "s3://uploads/missing.csv", batch.StudentCodec{}, batch.StreamOptions{}, collect)
		Expect(err).ToNot(BeNil())
		Expect(chunks).To(BeEmpty())
	})

	It("reads the first sheet of a spreadsheet", func() {
		f := excelize.NewFile()
		sheet := f.GetSheetName(0)
		Expect(f.SetSheetRow(sheet, "A1", &[]any{"ROLL NO", "EXAM", "Physics"})).To(Succeed())
		Expect(f.SetSheetRow(sheet, "A2", &[]any{"101", "Final", 88})).To(Succeed())
		Expect(f.SetSheetRow(sheet, "A3", &[]any{"102", "Final", 91.5})).To(Succeed())
		var buf bytes.Buffer
		Expect(f.Write(&buf)).To(Succeed())
		ref := opener.add("s3://uploads/marks.xlsx", buf.String())

		var rows []batch.MarkRow
		result, err := batch.StreamChunks[batch.MarkRow](context.TODO(), opener, ref, batch.MarkCodec{}, batch.StreamOptions{}, func(_ context.Context, chunk []batch.MarkRow) error {
			rows = append(rows, chunk...)
			return nil
		})
		Expect(err).To(BeNil())
		Expect(result.Rows).To(Equal(2))
		Expect(rows[1].Scores).To(HaveKeyWithValue("Physics", 91.5))
	})

	Context("signed url opener", func() {
		It("downloads through the signed url", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(studentCSV(2)))
			}))
			defer srv.Close()

			o := batch.NewSignedURLOpener(fixedSigner{url: srv.URL + "/students.csv?sig=abc"}, srv.Client(), time.Minute)
			result, err := batch.StreamChunks[batch.StudentRow](context.TODO(), o, "s3://uploads/students.csv", batch.StudentCodec{}, batch.StreamOptions{}, collect)
			Expect(err).To(BeNil())
			Expect(result.Rows).To(Equal(2))
		})

		It("wraps a failed download in a FetchError", func() {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusForbidden)
			}))
			defer srv.Close()

			o := batch.NewSignedURLOpener(fixedSigner{url: srv.URL}, srv.Client(), time.Minute)
			_, _, err := o.Open(context.TODO(), "s3://uploads/students.csv")
			var fetchErr *batch.FetchError
			Expect(errors.As(err, &fetchErr)).To(BeTrue())
			Expect(fetchErr.Ref).To(Equal("s3://uploads/students.csv"))
		})
	})
})
