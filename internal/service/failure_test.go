package service_test

import (
	"errors"
	"fmt"

	"github.com/gradebook/records-api/internal/batch"
	"github.com/gradebook/records-api/internal/queue"
	"github.com/gradebook/records-api/internal/service"
	"github.com/gradebook/records-api/internal/store"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("failure classifier", func() {
	DescribeTable("classifies errors",
		func(err error, class string) {
			failure := service.Classify(err, "student_ingestion")
			Expect(failure.Classification).To(Equal(class))
			Expect(failure.Context).To(Equal("student_ingestion"))
			Expect(failure.Message).ToNot(BeEmpty())
			Expect(failure.Timestamp.IsZero()).To(BeFalse())
		},
		Entry("unique violation", &store.UniqueViolationError{Table: "students", Columns: []string{"roll_no"}}, service.ClassUniqueViolation),
		Entry("wrapped unique violation", fmt.Errorf("writing: %w", &store.UniqueViolationError{Table: "students", Columns: []string{"roll_no"}}), service.ClassUniqueViolation),
		Entry("foreign key violation", &store.ForeignKeyViolationError{Table: "marks", Reference: "students.roll_no"}, service.ClassForeignKeyViolation),
		Entry("record not found", store.ErrRecordNotFound, service.ClassRecordNotFound),
		Entry("missing column", &batch.HeaderError{Kind: batch.KindStudent, Column: "SECTION"}, service.ClassValidation),
		Entry("invalid row", &batch.ValidationError{Row: 3, Column: "NAME", Reason: "is required"}, service.ClassValidation),
		Entry("unknown storage error", &store.UnknownError{Table: "marks", Raw: errors.New("disk full")}, service.ClassUnknownStorage),
		Entry("fetch error", &batch.FetchError{Ref: "s3://uploads/a.csv", Err: errors.New("timeout")}, service.ClassTransport),
		Entry("publish error", &queue.PublishError{Path: "/x", Err: errors.New("closed")}, service.ClassTransport),
		Entry("anything else", errors.New("boom"), service.ClassError),
	)

	It("describes a missing student of a mark", func() {
		failure := service.Classify(&store.ForeignKeyViolationError{Table: "marks", Reference: "students.roll_no"}, "mark_ingestion")
		Expect(failure.Message).To(Equal("foreign key constraint failed - students.roll_no not found"))
		Expect(failure.Detail).To(HaveKeyWithValue("table", "marks"))
	})

	It("keeps row and column of an invalid row", func() {
		failure := service.Classify(&batch.ValidationError{Row: 3, Column: "NAME", Reason: "is required"}, "student_csv_processing")
		Expect(failure.Message).To(Equal("row 3: NAME is required"))
		Expect(failure.Detail).To(Equal(map[string]string{"row": "3", "column": "NAME"}))
	})
})
