package scanning

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeFiles is a fake Gemini File API that reports PROCESSING for a number of polls
type fakeFiles struct {
	mu              sync.Mutex
	processingPolls int
	finalState      genai.FileState
	uploadErr       error
	getErr          error
	polls           int
	uploaded        []byte
	uploadOpts      *genai.UploadFileOptions
	deleted         []string
}

func (f *fakeFiles) UploadFile(ctx context.Context, name string, r io.Reader, opts *genai.UploadFileOptions) (*genai.File, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.uploaded = data
	f.uploadOpts = opts
	state := f.finalState
	if f.processingPolls > 0 {
		state = genai.FileStateProcessing
	}
	return &genai.File{Name: "files/abc", URI: "https://files/abc", MIMEType: opts.MIMEType, State: state}, nil
}

func (f *fakeFiles) GetFile(ctx context.Context, name string) (*genai.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.polls++
	state := f.finalState
	if f.polls < f.processingPolls {
		state = genai.FileStateProcessing
	}
	return &genai.File{Name: name, URI: "https://files/abc", MIMEType: "image/png", State: state}, nil
}

func (f *fakeFiles) DeleteFile(ctx context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

type fakeModel struct {
	text  string
	err   error
	parts []genai.Part
}

func (m *fakeModel) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	m.parts = parts
	if m.err != nil {
		return nil, m.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(m.text)}}},
		},
	}, nil
}

var _ = Describe("Gemini", func() {
	var (
		files    *fakeFiles
		model    *fakeModel
		poll     PollConfig
		receipts []ReceiptData
		err      error
	)

	BeforeEach(func() {
		files = &fakeFiles{finalState: genai.FileStateActive}
		model = &fakeModel{text: "```json\n[{\"date\":\"2025-01-01\",\"vendor_name\":\"Acme\",\"total_amount\":12.5}]\n```"}
		poll = PollConfig{Base: time.Millisecond, Cap: 5 * time.Millisecond, Timeout: time.Second}
	})

	JustBeforeEach(func() {
		g := newGeminiWithDeps(files, model, poll)
		receipts, err = g.ScanReceipt(context.Background(), "receipt.png", []byte("png bytes"), "image/png")
	})

	When("the file is active immediately", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return the parsed receipts", func() {
			Expect(receipts).To(Equal([]ReceiptData{
				{Date: "2025-01-01", VendorName: "Acme", TotalAmount: 12.5},
			}))
		})

		It("should upload the image with its display name", func() {
			Expect(files.uploaded).To(Equal([]byte("png bytes")))
			Expect(files.uploadOpts.DisplayName).To(Equal("receipt.png"))
			Expect(files.uploadOpts.MIMEType).To(Equal("image/png"))
		})

		It("should send the file reference and the prompt", func() {
			Expect(model.parts).To(HaveLen(2))
			Expect(model.parts[0]).To(Equal(genai.FileData{MIMEType: "image/png", URI: "https://files/abc"}))
			Expect(string(model.parts[1].(genai.Text))).To(ContainSubstring("vendor_name"))
		})

		It("should not poll", func() {
			Expect(files.polls).To(BeZero())
		})

		It("should delete the uploaded file", func() {
			Expect(files.deleted).To(ConsistOf("files/abc"))
		})
	})

	When("the file is processing for a few polls", func() {
		BeforeEach(func() {
			files.processingPolls = 3
		})

		It("should wait until the file is active", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(files.polls).To(Equal(3))
			Expect(receipts).To(HaveLen(1))
		})
	})

	When("the file never leaves processing", func() {
		BeforeEach(func() {
			files.processingPolls = 1 << 30
			poll.Timeout = 20 * time.Millisecond
		})

		It("returns an error after the poll timeout", func() {
			Expect(err).To(MatchError(ContainSubstring("not ready")))
		})

		It("should not call the model", func() {
			Expect(model.parts).To(BeNil())
		})
	})

	When("gemini fails to process the file", func() {
		BeforeEach(func() {
			files.processingPolls = 1
			files.finalState = genai.FileStateFailed
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("failed to process")))
		})
	})

	When("polling the file fails", func() {
		var setupErr error

		BeforeEach(func() {
			setupErr = errors.New("network down")
			files.processingPolls = 2
			files.getErr = setupErr
		})

		It("returns the error without retrying", func() {
			Expect(err).To(MatchError(setupErr))
		})
	})

	When("uploading fails", func() {
		var setupErr error

		BeforeEach(func() {
			setupErr = errors.New("quota exceeded")
			files.uploadErr = setupErr
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(setupErr))
		})
	})

	When("the model returns text that is not JSON", func() {
		BeforeEach(func() {
			model.text = "Sorry, I cannot help with that."
		})

		It("returns an extraction parse error", func() {
			Expect(err).To(MatchError(ErrExtractionParse))
		})

		It("still deletes the uploaded file", func() {
			Expect(files.deleted).To(ConsistOf("files/abc"))
		})
	})

	When("generation fails", func() {
		var setupErr error

		BeforeEach(func() {
			setupErr = errors.New("model overloaded")
			model.err = setupErr
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(setupErr))
		})
	})
})
