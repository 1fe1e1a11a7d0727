package client

import (
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// Звуковые сигналы. Имя сигнала - это и имя файла в каталоге звуков.
const (
	CueSignOn  = "signon"
	CueSignOff = "signoff"
	CueReceive = "receive"
	CueSend    = "send"
)

// CuePlayer проигрывает одноразовый звуковой сигнал.
type CuePlayer interface {
	Play(cue string)
}

// Settings - настройки звука. Передаются явно всем, кому нужна текущая
// громкость в момент проигрывания, вместо глобальной ячейки уровня модуля.
type Settings struct {
	mu     sync.Mutex
	volume float64
	muted  bool
}

func NewSettings(volume float64, muted bool) *Settings {
	return &Settings{volume: clampVolume(volume), muted: muted}
}

// Volume возвращает текущую громкость (0..1).
func (s *Settings) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

func (s *Settings) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = clampVolume(v)
	s.mu.Unlock()
}

func (s *Settings) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Settings) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func clampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SoundPlayer держит декодированные сигналы в памяти и проигрывает их через
// динамик. Отсутствующий каталог или файл - не ошибка, сигнал просто молчит.
type SoundPlayer struct {
	settings *Settings
	buffers  map[string]*beep.Buffer
}

func NewSoundPlayer(dir string, settings *Settings) *SoundPlayer {
	p := &SoundPlayer{
		settings: settings,
		buffers:  make(map[string]*beep.Buffer),
	}
	if dir == "" {
		return p
	}

	var baseRate beep.SampleRate
	for _, cue := range []string{CueSignOn, CueSignOff, CueReceive, CueSend} {
		path, ok := findCueFile(dir, cue)
		if !ok {
			continue
		}
		buf, format, err := bufferCue(path, baseRate)
		if err != nil {
			log.Printf("sound: failed to decode %s: %v", path, err)
			continue
		}

		if baseRate == 0 {
			baseRate = format.SampleRate
			speaker.Init(baseRate, baseRate.N(time.Second/10))
		}
		p.buffers[cue] = buf
	}
	return p
}

// bufferCue декодирует файл сигнала в память и закрывает его - декодеры
// держат файл открытым, пока поток не вычитан. baseRate == 0 означает
// "частота файла"; иначе поток пересемплируется.
func bufferCue(path string, baseRate beep.SampleRate) (*beep.Buffer, beep.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, err
	}
	defer f.Close()

	streamer, format, err := decodeCue(f)
	if err != nil {
		return nil, beep.Format{}, err
	}

	target := format
	final := beep.Streamer(streamer)
	if baseRate != 0 && format.SampleRate != baseRate {
		final = beep.Resample(4, format.SampleRate, baseRate, final)
		target.SampleRate = baseRate
	}
	buf := beep.NewBuffer(target)
	buf.Append(final)
	return buf, format, nil
}

// Play проигрывает сигнал с громкостью на момент вызова. Не блокирует.
func (p *SoundPlayer) Play(cue string) {
	buf, ok := p.buffers[cue]
	if !ok {
		return
	}
	vol := p.settings.Volume()
	if p.settings.Muted() || vol <= 0 {
		return
	}
	speaker.Play(&effects.Volume{
		Streamer: buf.Streamer(0, buf.Len()),
		Base:     2,
		Volume:   math.Log2(vol),
	})
}

func findCueFile(dir, cue string) (string, bool) {
	for _, ext := range []string{".wav", ".mp3"} {
		path := filepath.Join(dir, cue+ext)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func decodeCue(f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(filepath.Ext(f.Name())) {
	case ".mp3":
		return mp3.Decode(f)
	case ".wav":
		return wav.Decode(f)
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported audio format: %s", f.Name())
	}
}

// NoopPlayer - заглушка для тестов и запуска без звука.
type NoopPlayer struct{}

func (NoopPlayer) Play(string) {}
