package validate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/gallerydrop/internal/model"
)

var jpegHeader = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func TestCheck(t *testing.T) {
	v := New([]string{"image/jpeg", " Image/PNG "}, 1024)

	tests := []struct {
		name   string
		file   model.RawFile
		reason model.RejectReason
	}{
		{"accepted", model.RawFile{Name: "a.jpg", ContentType: "image/jpeg", Size: 10}, ""},
		{"params and case", model.RawFile{Name: "b.png", ContentType: "IMAGE/PNG; foo=bar", Size: 10}, ""},
		{"wrong type", model.RawFile{Name: "c.pdf", ContentType: "application/pdf", Size: 10}, model.ReasonInvalidType},
		{"too large", model.RawFile{Name: "d.jpg", ContentType: "image/jpeg", Size: 2048}, model.ReasonTooLarge},
		{"type before size", model.RawFile{Name: "e.txt", ContentType: "text/plain", Size: 4096}, model.ReasonInvalidType},
		{"sniffed", model.RawFile{Name: "f", Data: jpegHeader}, ""},
		{"size from data", model.RawFile{Name: "g.jpg", ContentType: "image/jpeg", Data: make([]byte, 2000)}, model.ReasonTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rej := v.Check(tc.file)
			if tc.reason == "" {
				require.Nil(t, rej)
				return
			}
			require.NotNil(t, rej)
			require.Equal(t, tc.reason, rej.Reason)
			require.Equal(t, tc.file.Name, rej.FileName)
			require.NotEmpty(t, rej.Message)
		})
	}
}

func TestPartitionIsolatesRejections(t *testing.T) {
	v := New([]string{"image/jpeg"}, 100)
	files := []model.RawFile{
		{Name: "ok1.jpg", ContentType: "image/jpeg", Size: 10},
		{Name: "big.jpg", ContentType: "image/jpeg", Size: 1000},
		{Name: "doc.pdf", ContentType: "application/pdf", Size: 10},
		{Name: "ok2", ContentType: "application/octet-stream", Data: jpegHeader},
	}

	accepted, rejections := v.Partition(files)
	require.Len(t, accepted, 2)
	require.Equal(t, "ok1.jpg", accepted[0].Name)
	require.Equal(t, "ok2", accepted[1].Name)
	require.Equal(t, "image/jpeg", accepted[1].ContentType)
	require.Equal(t, []model.Rejection{
		{FileName: "big.jpg", Reason: model.ReasonTooLarge, Message: rejections[0].Message},
		{FileName: "doc.pdf", Reason: model.ReasonInvalidType, Message: rejections[1].Message},
	}, rejections)
}
