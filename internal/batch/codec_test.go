package batch_test

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gradebook/records-api/internal/batch"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("codec", func() {
	Context("kinds", func() {
		It("parses a kind or its segment", func() {
			k, err := batch.ParseKind("student")
			Expect(err).To(BeNil())
			Expect(k).To(Equal(batch.KindStudent))

			k, err = batch.ParseKind("Mark-Upload")
			Expect(err).To(BeNil())
			Expect(k).To(Equal(batch.KindMark))

			_, err = batch.ParseKind("teacher")
			Expect(err).ToNot(BeNil())
		})

		It("names processing stages after the segment", func() {
			Expect(batch.KindSubject.Stage("csv_processing")).To(Equal("subject_csv_processing"))
		})
	})

	Context("header", func() {
		It("matches columns ignoring case, blanks and a byte order mark", func() {
			h := batch.NewHeader([]string{"\ufeffroll no", " Name ", "CLASS", "section"})
			Expect(batch.StudentCodec{}.CheckHeader(h)).To(BeNil())
		})

		It("names the first missing required column", func() {
			h := batch.NewHeader([]string{"ROLL NO", "NAME", "SECTION"})
			err := batch.StudentCodec{}.CheckHeader(h)
			Expect(err).ToNot(BeNil())

			var headerErr *batch.HeaderError
			Expect(err).To(BeAssignableToTypeOf(headerErr))
			Expect(err.Error()).To(Equal("missing required column: CLASS"))
		})

		It("requires at least one subject column for marks", func() {
			h := batch.NewHeader([]string{"ROLL NO", "EXAM"})
			err := batch.MarkCodec{}.CheckHeader(h)
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(Equal("at least one subject mark is required"))
		})
	})

	Context("student rows", func() {
		header := batch.NewHeader([]string{"ROLL NO", "NAME", "CLASS", "SECTION", "NOTES"})

		It("decodes a row and ignores unknown columns", func() {
			row, err := batch.StudentCodec{}.Decode(batch.NewRecord(header, 1, []string{" 101", "Asha", "10", "A", "prefect"}))
			Expect(err).To(BeNil())
			Expect(row).To(Equal(batch.StudentRow{RollNo: "101", Name: "Asha", Class: "10", Section: "A"}))
			Expect(row.Key()).To(Equal("101"))
		})

		It("rejects a row with an empty required cell", func() {
			_, err := batch.StudentCodec{}.Decode(batch.NewRecord(header, 4, []string{"101", "", "10", "A"}))
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(Equal("row 4: NAME is required"))
		})

		It("rejects a roll number longer than the students table allows", func() {
			rollNo := strings.Repeat("7", batch.MaxRollNoLength+6)
			_, err := batch.StudentCodec{}.Decode(batch.NewRecord(header, 1, []string{rollNo, "Asha", "10", "A"}))
			Expect(err).ToNot(BeNil())

			var rowErr *batch.ValidationError
			Expect(err).To(BeAssignableToTypeOf(rowErr))
			Expect(err.Error()).To(Equal("row 1: ROLL NO exceeds 64 characters"))
		})

		It("decodes only rows the ingestion endpoint accepts", func() {
			cells := []string{
				strings.Repeat("r", batch.MaxRollNoLength),
				strings.Repeat("n", batch.MaxNameLength),
				strings.Repeat("c", batch.MaxClassLength),
				strings.Repeat("s", batch.MaxSectionLength),
			}
			row, err := batch.StudentCodec{}.Decode(batch.NewRecord(header, 1, cells))
			Expect(err).To(BeNil())
			Expect(validator.New().Struct(row)).To(Succeed())

			for i := range cells {
				long := append([]string(nil), cells...)
				long[i] += "x"
				_, err := batch.StudentCodec{}.Decode(batch.NewRecord(header, 1, long))
				Expect(err).ToNot(BeNil(), "column %d", i)
			}
		})

		It("treats cells missing from a short row as empty", func() {
			_, err := batch.StudentCodec{}.Decode(batch.NewRecord(header, 2, []string{"101", "Asha", "10"}))
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("SECTION"))
		})
	})

	Context("subject rows", func() {
		header := batch.NewHeader([]string{"NAME", "CLASS", "SECTION", "MAXIMUM MARKS"})

		It("decodes maximum marks", func() {
			row, err := batch.SubjectCodec{}.Decode(batch.NewRecord(header, 1, []string{"Physics", "10", "A", "100"}))
			Expect(err).To(BeNil())
			Expect(row.MaxMarks).To(Equal(100))
			Expect(row.Key()).To(Equal("PHYSICS/10/A"))
		})

		It("rejects maximum marks that are not a positive integer", func() {
			for _, raw := range []string{"0", "-5", "ten", "99.5"} {
				_, err := batch.SubjectCodec{}.Decode(batch.NewRecord(header, 1, []string{"Physics", "10", "A", raw}))
				Expect(err).ToNot(BeNil(), raw)
			}
		})
	})

	Context("mark rows", func() {
		header := batch.NewHeader([]string{"ROLL NO", "EXAM", "Physics", "Chemistry", "Biology"})

		It("keeps every extra column as a subject score", func() {
			row, err := batch.MarkCodec{}.Decode(batch.NewRecord(header, 1, []string{"101", "Midterm", "78", "81.5", ""}))
			Expect(err).To(BeNil())
			Expect(row.RollNo).To(Equal("101"))
			Expect(row.Exam).To(Equal("Midterm"))
			Expect(row.Scores).To(Equal(map[string]float64{"Physics": 78, "Chemistry": 81.5}))
			Expect(row.Key()).To(Equal("101/Midterm"))
		})

		It("rejects an exam name longer than the marks table allows", func() {
			exam := strings.Repeat("e", batch.MaxExamLength+1)
			_, err := batch.MarkCodec{}.Decode(batch.NewRecord(header, 2, []string{"101", exam, "78", "80", "80"}))
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(Equal("row 2: EXAM exceeds 255 characters"))
		})

		It("rejects a negative or non-numeric score", func() {
			_, err := batch.MarkCodec{}.Decode(batch.NewRecord(header, 3, []string{"101", "Midterm", "-1", "80", "80"}))
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("row 3: Physics"))

			_, err = batch.MarkCodec{}.Decode(batch.NewRecord(header, 3, []string{"101", "Midterm", "80", "abc", "80"}))
			Expect(err).ToNot(BeNil())
			Expect(err.Error()).To(ContainSubstring("Chemistry"))
		})
	})
})
