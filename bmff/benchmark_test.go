package bmff_test

import (
	"os"
	"testing"

	"github.com/nori-av/demux/bmff"
)

func loadTestFile(b *testing.B) []byte {
	b.Helper()
	data, err := os.ReadFile("testdata/sample.mp4")
	if err != nil {
		b.Skipf("test file not available: %v", err)
	}
	return data
}

func BenchmarkReaderParse(b *testing.B) {
	data := loadTestFile(b)
	b.SetBytes(int64(len(data)))

	for b.Loop() {
		r := bmff.NewReader(data)
		for r.Next() {
			if bmff.IsContainerBox(r.Type()) {
				r.Enter()
				walkBench(&r)
				r.Exit()
			}
		}
	}
}

func walkBench(r *bmff.Reader) {
	for r.Next() {
		if r.Type() == bmff.TypeStsd {
			r.Enter()
			r.Skip(4)
			if r.Next() {
				switch r.Type() {
				case bmff.TypeAvc1:
					_ = bmff.ReadVisualSampleEntry(r.Data())
				case bmff.TypeMp4a:
					_ = bmff.ReadAudioSampleEntry(r.Data())
				}
			}
			r.Exit()
			continue
		}
		if bmff.IsContainerBox(r.Type()) {
			r.Enter()
			walkBench(r)
			r.Exit()
		}
	}
}

func BenchmarkStszIterSynthetic(b *testing.B) {
	const count = 100000
	data := make([]byte, 8+count*4)
	be := func(v uint32, off int) { data[off] = byte(v >> 24); data[off+1] = byte(v >> 16); data[off+2] = byte(v >> 8); data[off+3] = byte(v) }
	be(0, 0)
	be(count, 4)
	for i := 0; i < count; i++ {
		be(uint32(100+i%50), 8+i*4)
	}

	b.ResetTimer()
	for b.Loop() {
		it := bmff.NewStszIter(data)
		for {
			_, ok := it.Next()
			if !ok {
				break
			}
		}
	}
}
