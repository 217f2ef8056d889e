package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/yuechen/ai-roleplay/backend/internal/config"
	"github.com/yuechen/ai-roleplay/backend/internal/service/speech"
)

// 手动冒烟工具：绕过 HTTP 层直接驱动语音中继，把合成结果写入文件。
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	if !cfg.Speech.Enabled() {
		log.Fatal("语音中继未启用，请先配置 ALIYUN_AK_ID / ALIYUN_AK_SECRET / ISI_APPKEY")
	}

	text := flag.String("text", "", "待合成文本")
	voice := flag.String("voice", "xiaoyun", "发音人")
	format := flag.String("format", "mp3", "输出格式")
	sampleRate := flag.Int("rate", 16000, "采样率")
	outputPath := flag.String("out", "", "输出文件路径 (默认 speech.<format>)")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")
	flag.Parse()

	if *text == "" {
		flag.Usage()
		log.Fatal("请通过 -text 指定待合成文本")
	}

	out := *outputPath
	if out == "" {
		out = "speech." + *format
	}

	issuer := speech.NewTokenIssuer(cfg.Speech)
	relay := speech.NewRelay(cfg.Speech, issuer)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	chunks, err := relay.Synthesize(ctx, speech.Request{
		Text:       *text,
		Voice:      *voice,
		Format:     *format,
		SampleRate: *sampleRate,
	})
	if err != nil {
		log.Fatalf("合成失败: %v", err)
	}

	file, err := os.Create(out)
	if err != nil {
		log.Fatalf("创建输出文件失败: %v", err)
	}
	defer file.Close()

	var total int
	for chunk := range chunks {
		n, err := file.Write(chunk)
		if err != nil {
			log.Fatalf("写入音频失败: %v", err)
		}
		total += n
	}

	if total == 0 {
		log.Fatal("未收到任何音频数据，请检查凭证与发音人配置")
	}
	log.Printf("合成完成: %s (%d bytes)", out, total)
}
