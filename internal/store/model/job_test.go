package model_test

import (
	"github.com/gradebook/records-api/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("job", func() {
	var job model.Job

	BeforeEach(func() {
		job = model.NewJob("job-1", "student-upload", "teacher-1", "students.csv", "s3://uploads/students.csv")
	})

	Context("Advance", func() {
		It("collapses duplicate keys inside one call", func() {
			accepted := job.Advance([]string{"1", "1", "2"})
			Expect(accepted).To(Equal([]string{"1", "2"}))
			Expect(job.ProcessedRows).To(Equal(2))
			Expect(job.Status).To(Equal(model.JobStatusProcessing))
		})

		It("only counts keys it has not seen", func() {
			job.Advance([]string{"1", "2"})
			accepted := job.Advance([]string{"2", "3"})
			Expect(accepted).To(Equal([]string{"3"}))
			Expect(job.ProcessedRows).To(Equal(3))
		})

		It("does not complete while the total is unknown", func() {
			job.Advance([]string{"1"})
			Expect(job.Status).To(Equal(model.JobStatusProcessing))
		})

		It("completes exactly at the total", func() {
			job.Status = model.JobStatusProcessing
			job.SetTotal(2)
			job.Advance([]string{"1"})
			Expect(job.Status).To(Equal(model.JobStatusProcessing))
			job.Advance([]string{"2"})
			Expect(job.Status).To(Equal(model.JobStatusCompleted))

			Expect(job.Advance([]string{"3"})).To(BeEmpty())
			Expect(job.ProcessedRows).To(Equal(2))
		})

		It("leaves a failed job untouched", func() {
			job.Status = model.JobStatusFailed
			Expect(job.Advance([]string{"1"})).To(BeEmpty())
			Expect(job.ProcessedRows).To(Equal(0))
			Expect(job.Status).To(Equal(model.JobStatusFailed))
		})
	})

	Context("SetTotal", func() {
		It("completes an empty file", func() {
			job.Status = model.JobStatusProcessing
			job.SetTotal(0)
			Expect(job.Status).To(Equal(model.JobStatusCompleted))
		})

		It("does not complete a pending job", func() {
			job.SetTotal(0)
			Expect(job.Status).To(Equal(model.JobStatusPending))
		})
	})

	It("derives stable subject ids from the natural key", func() {
		Expect(model.SubjectID("math", "10", "A")).To(Equal(model.SubjectID("MATH", "10", "A")))
		Expect(model.SubjectID("MATH", "10", "A")).ToNot(Equal(model.SubjectID("MATH", "10", "B")))
	})
})
