package help

const ColdstartYAML = `# picget Quick Start

commands:
  list_pages: |
    picget pages --url "https://www.example.com/art/pic/"

  detail_links: |
    picget details --url "https://www.example.com/art/pic/index_2.html"
    picget details --all --url "https://www.example.com/art/pic/"

  image_urls: |
    picget images --url "https://www.example.com/art/pic/101/"

  download_pages: |
    picget download --url "https://www.example.com/art/pic/101/"
    picget download --all --url "https://www.example.com/art/pic/"

  download_image_urls: |
    picget download --dest "Some Album" --image "https://cdn.example.com/a.jpg" --image "https://cdn.example.com/b.jpg"

  video: |
    picget manifest --url "https://www.example.com/video/1/"
    picget segments --url "https://cdn.example.com/hls/index.m3u8"
    picget video --url "https://www.example.com/video/1/" --name "My Clip"
    picget video --manifest "https://cdn.example.com/hls/index.m3u8"

  history: |
    picget runs
    picget run            # latest run
    picget run <run-id> --failed

key_files:
  - "picget-downloads/<title>/ (one folder per album or video)"
  - "picget-downloads/<title>/picget-summary.yaml (counts and failures of the run)"
  - "picget-downloads/<title>/<title>.mp4 (merged video, segments removed)"
  - "picget-downloads/index.yaml (all runs, newest first)"
  - "picget.db next to the binary (run history, override with --db)"

tuning:
  workers: "1-100 concurrent downloads per batch (--workers, PICGET_WORKERS)"
  delay: "seconds each worker pauses after a unit (--delay)"
  jitter: "random extra seconds on top of the delay (--jitter)"
  user_agent: "fixed User-Agent instead of a random one per request (--user-agent)"
  cache_dir: "reuse fetched pages between commands (--cache-dir)"
  redis_url: "share the duplicate filter between processes (--redis-url)"
  config: "YAML file with the same keys as models.Config (--config)"

behavior:
  - "Identical image content is saved once per batch, the rest are skipped"
  - "Segments are merged in file name order whatever order they finished in"
  - "Ctrl-C stops a batch before its next unit; finished segments are still merged"
  - "A failed unit never stops its batch"

error_behavior:
  - "Invalid configuration or URLs: fail before any request"
  - "Per-unit errors: listed in picget-summary.yaml and 'picget run <id> --failed'"
  - "Exit code 1 when a command fails"
`
