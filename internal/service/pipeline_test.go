package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gradebook/records-api/internal/auth"
	"github.com/gradebook/records-api/internal/batch"
	"github.com/gradebook/records-api/internal/events"
	"github.com/gradebook/records-api/internal/queue"
	"github.com/gradebook/records-api/internal/service"
	"github.com/gradebook/records-api/internal/store"
	"github.com/gradebook/records-api/internal/store/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const studentsCSV = "ROLL NO,NAME,CLASS,SECTION\n2023001,John Doe,10,A\n2023002,Jane Smith,10,A\n"

// chunksOf decodes the chunk messages published to the ingestion path of kind.
func chunksOf[R any](messages []queue.Message, kind batch.Kind) []service.IngestRequest[R] {
	var chunks []service.IngestRequest[R]
	for _, m := range messages {
		if m.Path != service.IngestPath(kind) {
			continue
		}
		var req service.IngestRequest[R]
		Expect(json.Unmarshal(m.Body, &req)).To(Succeed())
		chunks = append(chunks, req)
	}
	return chunks
}

var _ = Describe("ingestion pipeline", Ordered, func() {
	var (
		s         store.Store
		gormdb    *gorm.DB
		opener    *memoryOpener
		publisher *capturePublisher
		recorder  *eventRecorder
		jobs      *service.JobService
		processor *service.ProcessService
		ingester  *service.IngestService
		teacher   = auth.User{ID: "teacher-1", Username: "teacher", Role: auth.RoleTeacher}
	)

	BeforeAll(func() {
		s, gormdb = newTestStore()
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		opener = newMemoryOpener()
		publisher = &capturePublisher{}
		recorder = &eventRecorder{}
		jobs = service.NewJobService(s, newMemoryStorage(), publisher, recorder, 0)
		processor = service.NewProcessService(s, opener, publisher, recorder, service.ProcessOptions{})
		ingester = service.NewIngestService(s, recorder).WithPasswordCost(bcrypt.MinCost)
	})

	AfterEach(func() {
		cleanTables(gormdb)
	})

	// acknowledge uploads content under ref and returns the process message body.
	acknowledge := func(kind batch.Kind, jobID, ref, content string) service.ProcessRequest {
		opener.add(ref, content)
		_, err := jobs.Acknowledge(context.TODO(), teacher, service.AckRequest{JobID: jobID, Kind: kind, FileURL: ref})
		Expect(err).To(BeNil())

		messages := publisher.published()
		Expect(messages).ToNot(BeEmpty())
		last := messages[len(messages)-1]
		Expect(last.Path).To(Equal(service.ProcessPath(kind)))

		var req service.ProcessRequest
		Expect(json.Unmarshal(last.Body, &req)).To(Succeed())
		return req
	}

	getJob := func(id string) *model.Job {
		job, err := s.Job().Get(context.TODO(), id)
		Expect(err).To(BeNil())
		return job
	}

	Context("students", func() {
		It("ingests a file end to end", func() {
			req := acknowledge(batch.KindStudent, "job-students", "s3://uploads/students.csv", studentsCSV)
			Expect(req.JobID).To(Equal("job-students"))
			Expect(req.FileURL).To(Equal("s3://uploads/students.csv"))
			Expect(getJob("job-students").Status).To(Equal(model.JobStatusPending))

			total, err := processor.Process(context.TODO(), batch.KindStudent, req)
			Expect(err).To(BeNil())
			Expect(total).To(Equal(2))
			Expect(getJob("job-students").Status).To(Equal(model.JobStatusProcessing))

			chunks := chunksOf[batch.StudentRow](publisher.published(), batch.KindStudent)
			Expect(chunks).To(HaveLen(1))
			Expect(chunks[0].JobID).To(Equal("job-students"))
			Expect(chunks[0].Rows).To(Equal([]batch.StudentRow{
				{RollNo: "2023001", Name: "John Doe", Class: "10", Section: "A"},
				{RollNo: "2023002", Name: "Jane Smith", Class: "10", Section: "A"},
			}))

			result, err := ingester.IngestStudents(context.TODO(), chunks[0].JobID, chunks[0].Rows)
			Expect(err).To(BeNil())
			Expect(result.InsertedCount).To(Equal(2))

			job := getJob("job-students")
			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(job.TotalRows).To(Equal(2))
			Expect(job.ProcessedRows).To(Equal(2))

			students, err := s.Student().List(context.TODO(), store.NewRecordQueryFilter().ByJobID("job-students"))
			Expect(err).To(BeNil())
			Expect(students).To(HaveLen(2))

			user, err := s.User().GetByUsername(context.TODO(), "2023001")
			Expect(err).To(BeNil())
			Expect(user.Role).To(Equal(model.RoleStudent))
			Expect(bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("2023001"))).To(Succeed())

			Expect(recorder.kinds()).To(Equal([]string{
				events.JobCreatedKind,
				events.JobProcessingKind,
				events.JobCompletedKind,
			}))
		})

		It("does not write a redelivered chunk twice", func() {
			req := acknowledge(batch.KindStudent, "job-students", "s3://uploads/students.csv", studentsCSV)
			_, err := processor.Process(context.TODO(), batch.KindStudent, req)
			Expect(err).To(BeNil())
			chunk := chunksOf[batch.StudentRow](publisher.published(), batch.KindStudent)[0]

			_, err = ingester.IngestStudents(context.TODO(), chunk.JobID, chunk.Rows)
			Expect(err).To(BeNil())

			result, err := ingester.IngestStudents(context.TODO(), chunk.JobID, chunk.Rows)
			Expect(err).To(BeNil())
			Expect(result.InsertedCount).To(Equal(0))

			job := getJob("job-students")
			Expect(job.ProcessedRows).To(Equal(2))
			Expect(job.Status).To(Equal(model.JobStatusCompleted))

			var count int64
			Expect(gormdb.Model(&model.Student{}).Count(&count).Error).To(BeNil())
			Expect(count).To(BeEquivalentTo(2))

			completed := 0
			for _, k := range recorder.kinds() {
				if k == events.JobCompletedKind {
					completed++
				}
			}
			Expect(completed).To(Equal(1))
		})

		It("completes when every chunk is ingested before the total is recorded", func() {
			acknowledge(batch.KindStudent, "job-students", "s3://uploads/students.csv", studentsCSV)
			_, _ = s.Job().MarkProcessing(context.TODO(), "job-students")

			_, err := ingester.IngestStudents(context.TODO(), "job-students", []batch.StudentRow{
				{RollNo: "2023001", Name: "John Doe", Class: "10", Section: "A"},
				{RollNo: "2023002", Name: "Jane Smith", Class: "10", Section: "A"},
			})
			Expect(err).To(BeNil())
			Expect(getJob("job-students").Status).To(Equal(model.JobStatusProcessing))

			job, err := s.Job().SetTotalRows(context.TODO(), "job-students", 2)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusCompleted))
		})

		It("splits a large file into chunks accepted in any order", func() {
			var b strings.Builder
			b.WriteString("ROLL NO,NAME,CLASS,SECTION\n")
			for i := 1; i <= 301; i++ {
				fmt.Fprintf(&b, "R%04d,Student %d,9,B\n", i, i)
			}
			req := acknowledge(batch.KindStudent, "job-large", "s3://uploads/large.csv", b.String())

			total, err := processor.Process(context.TODO(), batch.KindStudent, req)
			Expect(err).To(BeNil())
			Expect(total).To(Equal(301))

			chunks := chunksOf[batch.StudentRow](publisher.published(), batch.KindStudent)
			Expect(chunks).To(HaveLen(3))
			Expect(chunks[0].Rows).To(HaveLen(150))
			Expect(chunks[1].Rows).To(HaveLen(150))
			Expect(chunks[2].Rows).To(HaveLen(1))

			for _, i := range []int{2, 0, 1} {
				Expect(getJob("job-large").Status).To(Equal(model.JobStatusProcessing))
				_, err := ingester.IngestStudents(context.TODO(), "job-large", chunks[i].Rows)
				Expect(err).To(BeNil())
			}

			job := getJob("job-large")
			Expect(job.ProcessedRows).To(Equal(301))
			Expect(job.Status).To(Equal(model.JobStatusCompleted))
		})

		It("fails the job before publishing when a column is missing", func() {
			req := acknowledge(batch.KindStudent, "job-bad", "s3://uploads/bad.csv", "ROLL NO,NAME,CLASS\n2023001,John Doe,10\n")

			_, err := processor.Process(context.TODO(), batch.KindStudent, req)
			Expect(err).ToNot(BeNil())

			var failure *service.FailureError
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Failure.Classification).To(Equal(service.ClassValidation))
			Expect(failure.Failure.Message).To(Equal("missing required column: SECTION"))

			Expect(chunksOf[batch.StudentRow](publisher.published(), batch.KindStudent)).To(BeEmpty())

			job := getJob("job-bad")
			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(job.Failure().Context).To(Equal("student_csv_processing"))
			Expect(recorder.kinds()).To(ContainElement(events.JobFailedKind))
		})

		It("fails the job on a roll number repeated in the file", func() {
			content := studentsCSV + "2023001,John Again,10,B\n"
			req := acknowledge(batch.KindStudent, "job-dup", "s3://uploads/dup.csv", content)

			_, err := processor.Process(context.TODO(), batch.KindStudent, req)
			var failure *service.FailureError
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Failure.Classification).To(Equal(service.ClassValidation))
			Expect(failure.Failure.Detail).To(HaveKeyWithValue("row", "3"))
			Expect(getJob("job-dup").Status).To(Equal(model.JobStatusFailed))
		})

		It("fails the job before publishing when a roll number is too long", func() {
			content := "ROLL NO,NAME,CLASS,SECTION\n" + strings.Repeat("9", 70) + ",John Doe,10,A\n"
			req := acknowledge(batch.KindStudent, "job-long", "s3://uploads/long.csv", content)

			_, err := processor.Process(context.TODO(), batch.KindStudent, req)
			var failure *service.FailureError
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Failure.Classification).To(Equal(service.ClassValidation))
			Expect(failure.Failure.Message).To(Equal("row 1: ROLL NO exceeds 64 characters"))
			Expect(chunksOf[batch.StudentRow](publisher.published(), batch.KindStudent)).To(BeEmpty())
			Expect(getJob("job-long").Status).To(Equal(model.JobStatusFailed))
		})

		It("fails the job of a chunk rejected before ingestion", func() {
			req := acknowledge(batch.KindStudent, "job-rejected", "s3://uploads/students.csv", studentsCSV)
			_, err := processor.Process(context.TODO(), batch.KindStudent, req)
			Expect(err).To(BeNil())

			cause := &batch.ValidationError{Row: 2, Column: "RollNo", Reason: "failed max=64"}
			err = ingester.RejectChunk(context.TODO(), batch.KindStudent, "job-rejected", cause)
			var failure *service.FailureError
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Failure.Classification).To(Equal(service.ClassValidation))

			job := getJob("job-rejected")
			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(job.Failure().Context).To(Equal("student_ingestion"))
			Expect(job.ProcessedRows).To(Equal(0))
			Expect(recorder.kinds()).To(ContainElement(events.JobFailedKind))
		})

		It("fails the job when its progress cannot be recorded", func() {
			req := acknowledge(batch.KindStudent, "job-progress", "s3://uploads/students.csv", studentsCSV)
			_, err := processor.Process(context.TODO(), batch.KindStudent, req)
			Expect(err).To(BeNil())
			chunk := chunksOf[batch.StudentRow](publisher.published(), batch.KindStudent)[0]

			broken := failingStore{Store: s, jobs: failingJobs{Job: s.Job(), err: errors.New("disk full")}}
			ingester = service.NewIngestService(broken, recorder).WithPasswordCost(bcrypt.MinCost)

			_, err = ingester.IngestStudents(context.TODO(), chunk.JobID, chunk.Rows)
			var failure *service.FailureError
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.JobID).To(Equal("job-progress"))

			job := getJob("job-progress")
			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(job.Failure().Context).To(Equal("student_ingestion"))
			Expect(job.ProcessedRows).To(Equal(0))

			var count int64
			Expect(gormdb.Model(&model.Student{}).Count(&count).Error).To(BeNil())
			Expect(count).To(BeEquivalentTo(0))
		})

		It("completes a file without data rows", func() {
			req := acknowledge(batch.KindStudent, "job-empty", "s3://uploads/empty.csv", "ROLL NO,NAME,CLASS,SECTION\n")

			total, err := processor.Process(context.TODO(), batch.KindStudent, req)
			Expect(err).To(BeNil())
			Expect(total).To(Equal(0))

			job := getJob("job-empty")
			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(recorder.kinds()).To(ContainElement(events.JobCompletedKind))
		})

		It("skips invalid rows when asked to", func() {
			processor = service.NewProcessService(s, opener, publisher, recorder, service.ProcessOptions{Policy: batch.SkipInvalid})
			content := "ROLL NO,NAME,CLASS,SECTION\n2023001,John Doe,10,A\n2023002,,10,A\n"
			req := acknowledge(batch.KindStudent, "job-skip", "s3://uploads/skip.csv", content)

			total, err := processor.Process(context.TODO(), batch.KindStudent, req)
			Expect(err).To(BeNil())
			Expect(total).To(Equal(1))

			chunk := chunksOf[batch.StudentRow](publisher.published(), batch.KindStudent)[0]
			_, err = ingester.IngestStudents(context.TODO(), chunk.JobID, chunk.Rows)
			Expect(err).To(BeNil())
			Expect(getJob("job-skip").Status).To(Equal(model.JobStatusCompleted))
		})

		It("fails the job when a chunk cannot be published", func() {
			publisher.failOn = 2
			req := acknowledge(batch.KindStudent, "job-queue", "s3://uploads/students.csv", studentsCSV)

			_, err := processor.Process(context.TODO(), batch.KindStudent, req)
			var failure *service.FailureError
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Failure.Classification).To(Equal(service.ClassTransport))
			Expect(getJob("job-queue").Status).To(Equal(model.JobStatusFailed))
		})

		It("fails the job when the file cannot be fetched", func() {
			_, err := jobs.Acknowledge(context.TODO(), teacher, service.AckRequest{JobID: "job-missing", Kind: batch.KindStudent, FileURL: "s3://uploads/missing.csv"})
			Expect(err).To(BeNil())

			_, err = processor.Process(context.TODO(), batch.KindStudent, service.ProcessRequest{JobID: "job-missing", FileURL: "s3://uploads/missing.csv"})
			Expect(err).ToNot(BeNil())
			Expect(getJob("job-missing").Status).To(Equal(model.JobStatusFailed))
		})
	})

	Context("process redelivery", func() {
		It("acknowledges a job that already left pending without streaming again", func() {
			req := acknowledge(batch.KindStudent, "job-students", "s3://uploads/students.csv", studentsCSV)
			_, err := processor.Process(context.TODO(), batch.KindStudent, req)
			Expect(err).To(BeNil())
			published := len(publisher.published())

			total, err := processor.Process(context.TODO(), batch.KindStudent, req)
			Expect(err).To(BeNil())
			Expect(total).To(Equal(2))
			Expect(publisher.published()).To(HaveLen(published))
		})

		It("rejects a request for another kind", func() {
			req := acknowledge(batch.KindStudent, "job-students", "s3://uploads/students.csv", studentsCSV)

			_, err := processor.Process(context.TODO(), batch.KindMark, req)
			var invalid *service.ErrInvalidRequest
			Expect(errors.As(err, &invalid)).To(BeTrue())
			Expect(getJob("job-students").Status).To(Equal(model.JobStatusPending))
		})

		It("returns not found for an unknown job", func() {
			_, err := processor.Process(context.TODO(), batch.KindStudent, service.ProcessRequest{JobID: "missing"})
			var notFound *service.ErrResourceNotFound
			Expect(errors.As(err, &notFound)).To(BeTrue())
		})
	})

	Context("subjects", func() {
		It("stores subjects under ids derived from their natural key", func() {
			content := "NAME,CLASS,SECTION,MAXIMUM MARKS\nmath,10,A,100\nScience,10,A,50\n"
			req := acknowledge(batch.KindSubject, "job-subjects", "s3://uploads/subjects.csv", content)
			_, err := processor.Process(context.TODO(), batch.KindSubject, req)
			Expect(err).To(BeNil())

			chunk := chunksOf[batch.SubjectRow](publisher.published(), batch.KindSubject)[0]
			result, err := ingester.IngestSubjects(context.TODO(), chunk.JobID, chunk.Rows)
			Expect(err).To(BeNil())
			Expect(result.InsertedCount).To(Equal(2))
			Expect(result.IDs).To(ConsistOf(model.SubjectID("MATH", "10", "A"), model.SubjectID("SCIENCE", "10", "A")))

			subjects, err := s.Subject().List(context.TODO(), store.NewRecordQueryFilter().ByJobID("job-subjects"))
			Expect(err).To(BeNil())
			Expect(subjects).To(HaveLen(2))
			names := []string{subjects[0].Name, subjects[1].Name}
			Expect(names).To(ConsistOf("MATH", "SCIENCE"))
			Expect(getJob("job-subjects").Status).To(Equal(model.JobStatusCompleted))
		})

		It("classifies a subject that already exists as a unique violation", func() {
			_, err := s.Subject().CreateMany(context.TODO(), []model.Subject{{
				ID: model.SubjectID("MATH", "10", "A"), Name: "MATH", Class: "10", Section: "A", MaxMarks: 100,
			}})
			Expect(err).To(BeNil())

			acknowledge(batch.KindSubject, "job-subjects", "s3://uploads/subjects.csv", "NAME,CLASS,SECTION,MAXIMUM MARKS\nMath,10,A,100\n")
			_, _ = s.Job().MarkProcessing(context.TODO(), "job-subjects")

			_, err = ingester.IngestSubjects(context.TODO(), "job-subjects", []batch.SubjectRow{{Name: "Math", Class: "10", Section: "A", MaxMarks: 100}})
			var failure *service.FailureError
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Failure.Classification).To(Equal(service.ClassUniqueViolation))

			job := getJob("job-subjects")
			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(job.ProcessedRows).To(Equal(0))
		})
	})

	Context("marks", func() {
		marksCSV := "ROLL NO,EXAM,MATH,SCIENCE\n2023001,Midterm,90,85.5\n"

		It("stores the scores of known students", func() {
			Expect(s.Student().CreateMany(context.TODO(), []model.Student{
				{RollNo: "2023001", Name: "John Doe", Class: "10", Section: "A"},
			})).To(Succeed())

			req := acknowledge(batch.KindMark, "job-marks", "s3://uploads/marks.csv", marksCSV)
			_, err := processor.Process(context.TODO(), batch.KindMark, req)
			Expect(err).To(BeNil())

			chunk := chunksOf[batch.MarkRow](publisher.published(), batch.KindMark)[0]
			result, err := ingester.IngestMarks(context.TODO(), chunk.JobID, chunk.Rows)
			Expect(err).To(BeNil())
			Expect(result.InsertedCount).To(Equal(1))

			marks, err := s.Mark().List(context.TODO(), store.NewRecordQueryFilter().ByJobID("job-marks"))
			Expect(err).To(BeNil())
			Expect(marks).To(HaveLen(1))
			Expect(marks[0].Scores.Data()).To(Equal(map[string]float64{"MATH": 90, "SCIENCE": 85.5}))
			Expect(getJob("job-marks").Status).To(Equal(model.JobStatusCompleted))
		})

		It("fails the job when a student does not exist", func() {
			req := acknowledge(batch.KindMark, "job-marks", "s3://uploads/marks.csv", marksCSV)
			_, err := processor.Process(context.TODO(), batch.KindMark, req)
			Expect(err).To(BeNil())

			chunk := chunksOf[batch.MarkRow](publisher.published(), batch.KindMark)[0]
			_, err = ingester.IngestMarks(context.TODO(), chunk.JobID, chunk.Rows)
			var failure *service.FailureError
			Expect(errors.As(err, &failure)).To(BeTrue())
			Expect(failure.Failure.Classification).To(Equal(service.ClassForeignKeyViolation))
			Expect(failure.Failure.Message).To(ContainSubstring("not found"))

			job := getJob("job-marks")
			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(job.Failure().Context).To(Equal("mark_ingestion"))

			var count int64
			Expect(gormdb.Model(&model.Mark{}).Count(&count).Error).To(BeNil())
			Expect(count).To(BeEquivalentTo(0))

			By("ignoring the chunk once the job has failed")
			result, err := ingester.IngestMarks(context.TODO(), chunk.JobID, chunk.Rows)
			Expect(err).To(BeNil())
			Expect(result.InsertedCount).To(Equal(0))
		})
	})

	It("returns not found when ingesting into an unknown job", func() {
		_, err := ingester.IngestStudents(context.TODO(), "missing", []batch.StudentRow{{RollNo: "1", Name: "a", Class: "1", Section: "A"}})
		var notFound *service.ErrResourceNotFound
		Expect(errors.As(err, &notFound)).To(BeTrue())
	})
})

// failingJobs accepts chunk writes but cannot record their progress.
type failingJobs struct {
	store.Job
	err error
}

func (f failingJobs) AdvanceProgress(context.Context, string, []string) (*model.Job, []string, error) {
	return nil, nil, f.err
}

type failingStore struct {
	store.Store
	jobs store.Job
}

func (f failingStore) Job() store.Job { return f.jobs }
